package watch

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"quartet/internal/autopilot"
	"quartet/internal/events"
	"quartet/internal/lock"
	"quartet/internal/model"
	"quartet/internal/notify"
	"quartet/internal/pipeline"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LockFileName is the watch daemon's single-instance lock, relative to the
// control directory. Its PID payload doubles as the liveness probe for
// `quartet status`.
const LockFileName = "locks/watch.lock"

// Daemon is the long-running controller-side process: it holds the
// controller, reconciles it against external store writes, forwards
// workspace activity to the autopilot, and raises desktop notifications at
// review gates.
type Daemon struct {
	quartetDir  string
	projectRoot string
	config      model.Config
	logLevel    LogLevel
	logger      *log.Logger
	logFile     io.Closer

	fileLock   *lock.FileLock
	controller *pipeline.Controller
	watcher    *Watcher
	monitor    *autopilot.Monitor
	feed       *ActivityFeed

	unsubscribe []func()
	shutdown    sync.Once
}

// New creates a daemon logging to logs/watch.log under the control dir.
func New(quartetDir string, cfg model.Config, controller *pipeline.Controller) (*Daemon, error) {
	logPath := filepath.Join(quartetDir, "logs", "watch.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open watch log: %w", err)
	}
	return newDaemon(quartetDir, cfg, controller, logFile, logFile), nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(quartetDir string, cfg model.Config, controller *pipeline.Controller, w io.Writer, closer io.Closer) *Daemon {
	d := &Daemon{
		quartetDir:  quartetDir,
		projectRoot: projectRoot(quartetDir, cfg),
		config:      cfg,
		logLevel:    parseLogLevel(cfg.Logging.Level),
		logger:      log.New(w, "", 0),
		logFile:     closer,
		fileLock:    lock.NewFileLock(filepath.Join(quartetDir, LockFileName)),
		controller:  controller,
	}

	debounce := time.Duration(cfg.Watcher.DebounceMillis()) * time.Millisecond
	d.watcher = NewWatcher(quartetDir, debounce, d.reconcile)

	if cfg.Autopilot.Enabled {
		quiet := time.Duration(cfg.Autopilot.QuietPeriod()) * time.Second
		d.monitor = autopilot.New(controller, quiet, cfg.Autopilot.IgnoreDirs, d.logf)
		d.feed = NewActivityFeed(d.projectRoot, d.monitor.Ignored, d.monitor.OnActivity)
	}

	return d
}

func projectRoot(quartetDir string, cfg model.Config) string {
	if cfg.Quartet.ProjectRoot != "" {
		return cfg.Quartet.ProjectRoot
	}
	return filepath.Dir(quartetDir)
}

// Run starts the daemon and blocks until a shutdown signal arrives.
func (d *Daemon) Run() error {
	if err := os.MkdirAll(filepath.Join(d.quartetDir, "locks"), 0755); err != nil {
		return fmt.Errorf("create locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("watch daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "watch daemon starting pid=%d dir=%s", os.Getpid(), d.quartetDir)

	d.subscribeNotifications()

	if err := d.watcher.Start(); err != nil {
		d.cleanup()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if d.feed != nil {
		g.Go(func() error { return d.feed.Run(ctx) })
		d.log(LogLevelInfo, "autopilot enabled quiet=%ds root=%s",
			d.config.Autopilot.QuietPeriod(), d.projectRoot)
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	d.log(LogLevelInfo, "watch daemon ready phase=%s", d.controller.CurrentPhase())

	err := g.Wait()
	d.log(LogLevelInfo, "shutting down")
	d.Shutdown()
	return err
}

// reconcile is the debounced watcher callback: reload persisted state into
// the controller.
func (d *Daemon) reconcile() {
	phase := d.controller.Reload()
	d.log(LogLevelDebug, "store changed, reloaded phase=%s", phase)
}

// subscribeNotifications wires controller announcements to the log and, at
// review gates, to the desktop.
func (d *Daemon) subscribeNotifications() {
	d.unsubscribe = append(d.unsubscribe,
		d.controller.Subscribe(events.EventPhaseChanged, func(e events.Event) {
			d.log(LogLevelInfo, "phase=%s agent=%s", e.Payload.Phase, e.Payload.Agent)
			if d.config.Notify.Enabled && model.IsReviewPhase(e.Payload.Phase) {
				agent := string(e.Payload.Agent)
				if agent == "" {
					agent = "agent"
				}
				if err := notify.ReviewGate(string(e.Payload.Phase), agent); err != nil {
					d.log(LogLevelWarn, "notification failed: %v", err)
				}
			}
		}),
		d.controller.Subscribe(events.EventOutputSaved, func(e events.Event) {
			d.log(LogLevelInfo, "output saved agent=%s phase=%s", e.Payload.Agent, e.Payload.Phase)
		}),
		d.controller.Subscribe(events.EventPipelineReset, func(e events.Event) {
			// A stale synthesized completion after a reset would be wrong;
			// drop any pending quiet timer.
			if d.monitor != nil {
				d.monitor.Stop()
			}
			d.log(LogLevelInfo, "pipeline reset")
		}),
	)
}

// Shutdown stops the watcher, autopilot and lock (idempotent).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.watcher.Stop()
		if d.monitor != nil {
			d.monitor.Stop()
		}
		for _, unsub := range d.unsubscribe {
			unsub()
		}
		d.cleanup()
		d.log(LogLevelInfo, "watch daemon stopped")
	})
}

func (d *Daemon) cleanup() {
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) logf(format string, args ...any) {
	d.log(LogLevelInfo, format, args...)
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s watch: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
