package beat

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/umputun/beatstore/app/store"
)

// commandTmpl is the data for command templates, i.e. "backup.sh {{.YYYYMMDD}}"
type commandTmpl struct {
	YYYYMMDD string
	YYYY     string
	YYYYMM   string
	YYMMDD   string
	ISODATE  string
	MM       string
	DD       string
	YY       string
	UNIX     int64
	UNIXMSEC int64

	NAME string
	RUN  uint64
}

// ExpandCommand fills date and entry elements of the command template for the run at ts in loc.
// Commands without "{{" returned as is.
func ExpandCommand(command string, e store.Entry, ts time.Time, loc *time.Location) (string, error) {
	if !strings.Contains(command, "{{") {
		return command, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	yy, mm, dd := ts.In(loc).Date()
	midnight := time.Date(yy, mm, dd, 0, 0, 0, 0, loc)
	data := commandTmpl{
		YYYYMMDD: midnight.Format("20060102"),
		YYYY:     midnight.Format("2006"),
		YYYYMM:   midnight.Format("200601"),
		YYMMDD:   midnight.Format("060102"),
		ISODATE:  midnight.Format("2006-01-02T00:00:00.000Z"),
		MM:       midnight.Format("01"),
		DD:       midnight.Format("02"),
		YY:       midnight.Format("06"),
		UNIX:     ts.Unix(),
		UNIXMSEC: ts.UnixMilli(),
		NAME:     e.Name,
		RUN:      e.TotalRunCount,
	}

	tmpl, err := template.New("cmd").Parse(command)
	if err != nil {
		return "", fmt.Errorf("can't parse command template %q: %w", command, err)
	}
	buf := bytes.Buffer{}
	if err = tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("can't expand command template %q: %w", command, err)
	}
	return buf.String(), nil
}
