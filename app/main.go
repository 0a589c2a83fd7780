package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/beatstore/app/beat"
	"github.com/umputun/beatstore/app/conditions"
	"github.com/umputun/beatstore/app/notify"
	"github.com/umputun/beatstore/app/schedule"
	"github.com/umputun/beatstore/app/store"
	"github.com/umputun/beatstore/app/web"
)

var opts struct {
	DB         string        `short:"d" long:"db" env:"BEATSTORE_DB" default:"beat-schedule" description:"schedule store file"`
	Backend    string        `long:"backend" env:"BEATSTORE_BACKEND" default:"auto" choice:"auto" choice:"file" choice:"yaml" choice:"sqlite" description:"store backend"`
	Schedule   string        `short:"s" long:"schedule" env:"BEATSTORE_SCHEDULE" default:"beat.yml" description:"default entries, yaml, toml or crontab file"`
	Timezone   string        `long:"tz" env:"BEATSTORE_TZ" default:"UTC" description:"scheduler timezone"`
	LocalTime  bool          `long:"local-time" env:"BEATSTORE_LOCAL_TIME" description:"record run times in scheduler timezone instead of UTC"`
	Tick       time.Duration `long:"tick" env:"BEATSTORE_TICK" default:"5m" description:"max interval between ticks"`
	SyncEvery  time.Duration `long:"sync-every" env:"BEATSTORE_SYNC_EVERY" default:"3m" description:"sync store even without changes, 0 to disable"`
	Workers    int           `long:"workers" env:"BEATSTORE_WORKERS" default:"4" description:"max concurrent commands"`
	Watch      bool          `short:"w" long:"watch" env:"BEATSTORE_WATCH" description:"reload schedule file on change or SIGHUP"`
	LogPrefix  bool          `long:"log-prefix" env:"BEATSTORE_LOG_PREFIX" description:"prefix command output with entry name"`
	MaxLogTail int           `long:"max-log" env:"BEATSTORE_MAX_LOG" default:"20" description:"command output lines reported on failure"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"1" description:"how many time repeat failed command"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial duration"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"BEATSTORE_REPEATER"`

	Notify struct {
		EnabledError      bool          `long:"enabled-error" env:"ENABLED_ERROR" description:"enable email notifications on errors"`
		EnabledCompletion bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"enable completion notifications"`
		SMTPHost          string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort          int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername      string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword      string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS           bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPTimeOut       time.Duration `long:"smtp-timeout" env:"SMTP_TIMEOUT" default:"10s" description:"SMTP TCP connection timeout"`
		From              string        `long:"from" env:"FROM" description:"SMTP from email"`
		To                []string      `long:"to" env:"TO" description:"SMTP to email(s)" env-delim:","`
		MaxLogLines       int           `long:"max-log" env:"MAX_LOG" default:"100" description:"max number of log lines in failure report"`
		HostName          string        `long:"host" env:"HOSTNAME" description:"host name running beatstore"`
	} `group:"notify" namespace:"notify" env-namespace:"BEATSTORE_NOTIFY"`

	Conditions struct {
		CPUInterval   time.Duration `long:"cpu-interval" env:"CPU_INTERVAL" default:"0s" description:"cpu sampling interval for max_cpu, usage since previous check if 0"`
		ScriptTimeout time.Duration `long:"script-timeout" env:"SCRIPT_TIMEOUT" default:"10s" description:"timeout of condition scripts"`
	} `group:"conditions" namespace:"conditions" env-namespace:"BEATSTORE_CONDITIONS"`

	Web struct {
		Listen       string  `long:"listen" env:"LISTEN" description:"status server address, disabled if empty"`
		PasswordHash string  `long:"password-hash" env:"PASSWORD_HASH" description:"bcrypt hash for basic auth, user beatstore"`
		RateLimit    float64 `long:"rate-limit" env:"RATE_LIMIT" default:"10" description:"requests per second per client, 0 to disable"`
	} `group:"web" namespace:"web" env-namespace:"BEATSTORE_WEB"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging"`
		Debug           bool   `long:"debug" env:"DEBUG" description:"debug mode"`
		Filename        string `long:"filename" env:"FILENAME" description:"file to write logs, stdout if empty"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max rotated log files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to retain rotated log files"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"BEATSTORE_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("beatstore %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hupCh := signals(cancel) // handle SIGQUIT, SIGTERM, SIGINT and SIGHUP

	if err := run(ctx, hupCh); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, hupCh <-chan struct{}) error {
	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", opts.Timezone, err)
	}

	loader := schedule.NewLoader(opts.Schedule, 500*time.Millisecond, hupCh)
	defaults, err := loadDefaults(loader)
	if err != nil {
		return err
	}

	backend, err := store.NewBackend(opts.Backend, opts.DB)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	st, err := store.Open(store.Params{
		Path:       opts.DB,
		Timezone:   loc.String(),
		UTCEnabled: !opts.LocalTime,
		Defaults:   defaults,
		Backend:    backend,
		Logger:     log.Default(),
		Metrics:    store.NewMetrics("beatstore", reg),
	})
	if err != nil {
		return fmt.Errorf("can't open schedule store: %w", err)
	}
	log.Printf("[INFO] %s, %d entries", st, len(st.Snapshot()))

	sched := &beat.Scheduler{
		Store: st,
		Dispatcher: &beat.ShellDispatcher{
			Repeater: repeater.New(&strategy.Backoff{Repeats: opts.Repeater.Attempts, Duration: opts.Repeater.Duration,
				Factor: opts.Repeater.Factor, Jitter: opts.Repeater.Jitter}),
			LogPrefix:  opts.LogPrefix,
			MaxLogTail: opts.MaxLogTail,
			Location:   loc,
		},
		Defaults:       loader,
		Conditions:     conditions.NewChecker(opts.Conditions.CPUInterval, opts.Conditions.ScriptTimeout),
		UpdatesEnabled: opts.Watch,
		Location:       loc,
		UTC:            !opts.LocalTime,
		MaxInterval:    opts.Tick,
		SyncEvery:      opts.SyncEvery,
		Workers:        opts.Workers,
	}

	if n := makeNotifier(); n != nil {
		log.Printf("[INFO] notifications to %v, errors %v, completions %v", n.To, n.OnError, n.OnCompletion)
		sched.Notifier = n
	}

	if opts.Web.Listen != "" {
		srv := &web.Server{Store: st, Scheduler: sched, Gatherer: reg, PasswordHash: opts.Web.PasswordHash,
			Version: revision, RateLimit: opts.Web.RateLimit}
		go func() {
			if err := srv.Run(ctx, opts.Web.Listen); err != nil {
				log.Printf("[WARN] %v", err)
			}
		}()
	}

	sdNotify(daemon.SdNotifyReady)
	defer sdNotify(daemon.SdNotifyStopping)
	return sched.Do(ctx)
}

// makeNotifier makes email notifier, nil if notifications disabled
func makeNotifier() *notify.Service {
	if !opts.Notify.EnabledError && !opts.Notify.EnabledCompletion {
		return nil
	}
	host := makeHostName()
	from := opts.Notify.From
	if from == "" {
		from = "beatstore@" + host
	}
	return notify.NewService(notify.Params{
		OnError:      opts.Notify.EnabledError,
		OnCompletion: opts.Notify.EnabledCompletion,
		From:         from,
		To:           opts.Notify.To,
		HostName:     host,
		MaxLogLines:  opts.Notify.MaxLogLines,
	}, notify.SMTPParams{
		Host:     opts.Notify.SMTPHost,
		Port:     opts.Notify.SMTPPort,
		Username: opts.Notify.SMTPUsername,
		Password: opts.Notify.SMTPPassword,
		TLS:      opts.Notify.SMTPTLS,
		TimeOut:  opts.Notify.SMTPTimeOut,
	})
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// loadDefaults returns entries from the schedule file, missing file means no defaults
func loadDefaults(loader *schedule.Loader) ([]store.Entry, error) {
	defaults, err := loader.List()
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[WARN] schedule file %s not found, no default entries", loader)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return defaults, nil
}

// sdNotify reports state to systemd, ignored if not running under systemd
func sdNotify(state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		log.Printf("[WARN] can't notify systemd, %v", err)
	} else if ok {
		log.Printf("[DEBUG] systemd notified, %s", state)
	}
}

// setupLogs configures lgr and returns the writer logs go to
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		log.Setup(log.Out(io.Discard), log.Err(io.Discard))
		return os.Stdout
	}

	var out io.Writer = os.Stdout
	if opts.Log.Filename != "" {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Log.Debug {
		log.Setup(log.Out(out), log.Err(out), log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return out
	}
	log.Setup(log.Out(out), log.Err(out), log.Msec)
	return out
}

// signals cancels ctx on SIGTERM or SIGINT, dumps stack traces on SIGQUIT.
// SIGHUP is delivered to the returned channel without blocking.
func signals(cancel context.CancelFunc) <-chan struct{} {
	hupCh := make(chan struct{}, 1)
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			switch sig {
			case syscall.SIGQUIT: // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
			case syscall.SIGHUP:
				select {
				case hupCh <- struct{}{}:
				default:
				}
			default:
				cancel() // terminate on SIGTERM and SIGINT
			}
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	return hupCh
}
