package beat

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/beatstore/app/store"
)

//go:generate moq -out mocks/repeater.go -pkg mocks -skip-ensure -fmt goimports . Repeater

// OptTimeout is the entry option limiting a single command run, i.e. "timeout: 30s"
const OptTimeout = "timeout"

// ShellDispatcher runs entry commands with sh -c, failed runs retried by Repeater
type ShellDispatcher struct {
	Repeater   Repeater
	Stdout     io.Writer      // os.Stdout if nil
	LogPrefix  bool           // prefix every output line with entry name
	MaxLogTail int            // output lines reported with failure
	Location   *time.Location // for date elements of command templates
}

// Repeater is the retry strategy for failed commands
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Dispatch runs entry's command. Args appended to the command, kwargs and run info passed as BEAT_* env.
// Command templates expanded for the entry's last run time.
func (d *ShellDispatcher) Dispatch(ctx context.Context, e store.Entry) error {
	command := Command(e)
	if command == "" {
		return fmt.Errorf("no command for entry %s", e.Name)
	}
	ts := time.Now()
	if e.LastRunAt != nil {
		ts = *e.LastRunAt
	}
	command, err := ExpandCommand(command, e, ts, d.Location)
	if err != nil {
		return err
	}

	if v, ok := e.Options[OptTimeout]; ok {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid timeout %q for entry %s: %w", v, e.Name, err)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var out io.Writer = os.Stdout
	if d.Stdout != nil {
		out = d.Stdout
	}
	if d.LogPrefix {
		out = NewLogPrefixer(out, e.Name)
	}

	run := func() error {
		tail := NewTailWriter(d.MaxLogTail)
		cmd := exec.CommandContext(ctx, "sh", "-c", command) // nolint gosec
		cmd.Env = append(os.Environ(), Env(e)...)
		w := io.MultiWriter(out, tail)
		cmd.Stdout, cmd.Stderr = w, w
		log.Printf("[DEBUG] executing %s for %s", command, e.Name)
		if err := cmd.Run(); err != nil {
			return &CommandError{Entry: e.Name, Err: err, Tail: tail.Lines()}
		}
		return nil
	}

	if d.Repeater == nil {
		return run()
	}
	return d.Repeater.Do(ctx, run)
}

// Command makes shell command line from entry's command and its args, args single-quoted
func Command(e store.Entry) string {
	if len(e.Args) == 0 {
		return e.Command
	}
	res := []string{e.Command}
	for _, a := range e.Args {
		res = append(res, "'"+strings.ReplaceAll(a, "'", `'\''`)+"'")
	}
	return strings.Join(res, " ")
}

// Env makes BEAT_* environment for entry's command. Kwargs keys upper-cased with non-alphanumerics replaced by "_".
func Env(e store.Entry) []string {
	res := []string{
		"BEAT_ENTRY=" + e.Name,
		"BEAT_SPEC=" + e.Spec,
		"BEAT_RUN_COUNT=" + strconv.FormatUint(e.TotalRunCount, 10),
	}
	if e.LastRunAt != nil {
		res = append(res, "BEAT_LAST_RUN_AT="+e.LastRunAt.Format(time.RFC3339))
	}

	keys := make([]string, 0, len(e.Kwargs))
	for k := range e.Kwargs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		res = append(res, "BEAT_KW_"+envKey(k)+"="+e.Kwargs[k])
	}
	return res
}

func envKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, k)
}

// CommandError is a failed command run with the last lines of its output
type CommandError struct {
	Entry string
	Err   error
	Tail  []string
}

func (e *CommandError) Error() string {
	if len(e.Tail) == 0 {
		return fmt.Sprintf("entry %s: %v", e.Entry, e.Err)
	}
	return fmt.Sprintf("entry %s: %v\n%s", e.Entry, e.Err, strings.Join(e.Tail, "\n"))
}

func (e *CommandError) Unwrap() error { return e.Err }
