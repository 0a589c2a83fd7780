// Package notify sends email reports about completed and failed entry runs
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/go-pkgz/notify"

	"github.com/umputun/beatstore/app/store"
)

//go:generate moq -out mocks/sender.go -pkg mocks -skip-ensure -fmt goimports . Sender

// Sender delivers text to destination url, i.e. mailto:
type Sender interface {
	Send(ctx context.Context, destination, text string) error
}

// Params define what and where to report
type Params struct {
	OnError      bool
	OnCompletion bool
	From         string
	To           []string
	HostName     string
	MaxLogLines  int // failure output lines in report, all if 0
}

// SMTPParams for email sender
type SMTPParams struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
	TimeOut  time.Duration
}

// Service reports entry runs by email
type Service struct {
	Params
	sender Sender
	now    func() time.Time
}

// NewService makes email service, nil if there are no recipients or nothing to report
func NewService(params Params, smtp SMTPParams) *Service {
	if len(params.To) == 0 || (!params.OnError && !params.OnCompletion) {
		return nil
	}
	sender := notify.NewEmail(notify.SMTPParams{
		Host:        smtp.Host,
		Port:        smtp.Port,
		TLS:         smtp.TLS,
		Username:    smtp.Username,
		Password:    smtp.Password,
		TimeOut:     smtp.TimeOut,
		ContentType: "text/html",
	})
	return &Service{Params: params, sender: sender, now: time.Now}
}

// Notify reports the run of entry, runErr is the dispatch result. Does nothing for disabled kind of report.
func (s *Service) Notify(ctx context.Context, e store.Entry, runErr error) error {
	if (runErr != nil && !s.OnError) || (runErr == nil && !s.OnCompletion) {
		return nil
	}

	subj := fmt.Sprintf("beatstore: %s completed on %s", e.Name, s.HostName)
	if runErr != nil {
		subj = fmt.Sprintf("beatstore: %s failed on %s", e.Name, s.HostName)
	}
	msg, err := s.MakeHTML(e, runErr)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, s.destination(subj), msg); err != nil {
		return fmt.Errorf("can't send notification for %s: %w", e.Name, err)
	}
	return nil
}

// destination makes mailto url for all recipients
func (s *Service) destination(subj string) string {
	q := url.Values{}
	q.Set("from", s.From)
	q.Set("subject", subj)
	return "mailto:" + strings.Join(s.To, ",") + "?" + q.Encode()
}

// MakeHTML makes report for the run, failed if runErr not nil
func (s *Service) MakeHTML(e store.Entry, runErr error) (string, error) {
	data := struct {
		Name    string
		Spec    string
		Command string
		Host    string
		TS      time.Time
		Runs    uint64
		Failed  bool
		Error   string
	}{
		Name:    e.Name,
		Spec:    e.Spec,
		Command: e.Command,
		Host:    s.HostName,
		TS:      s.now(),
		Runs:    e.TotalRunCount,
		Failed:  runErr != nil,
	}
	if runErr != nil {
		data.Error = s.errorLog(runErr)
	}

	buf := bytes.Buffer{}
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

// errorLog is the error text with up to MaxLogLines last lines
func (s *Service) errorLog(err error) string {
	lines := strings.Split(err.Error(), "\n")
	if s.MaxLogLines > 0 && len(lines) > s.MaxLogLines {
		lines = lines[len(lines)-s.MaxLogLines:]
	}
	return strings.Join(lines, "\n")
}

var reportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body {
				font-family: "Arial";
				font-size: 1.0em;
			}
			ul {
				margin-top: -0.5em;
				margin-left: -0.5em;
			}
			pre {
				padding: 0.6em;
				font-size: 0.7em;
				background-color: #E8E2A0;
				font-family: "Menlo";
				overflow-x: auto;
				white-space: pre-wrap;
				word-wrap: break-word;
			}
			.bold {
				color: #882828;
				font-weight: 900;
			}
		</style>
	</head>

	<body>
		<p>Beat entry {{if .Failed}}failed{{else}}completed{{end}} on <span class="bold">{{.Host}}</span> at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Entry: <span class="bold">{{.Name}}</span></li>
			<li>Command: <span class="bold">{{.Command}}</span></li>
			<li>Spec: <span class="bold">{{.Spec}}</span></li>
			<li>Runs: <span class="bold">{{.Runs}}</span></li>
		</ul>
		{{- if .Failed}}
		<pre>
{{.Error}}
		</pre>
		{{- end}}
	</body>
</html>
`))
