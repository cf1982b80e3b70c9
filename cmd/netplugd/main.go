package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/syslog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	lSyslog "github.com/sirupsen/logrus/hooks/syslog"

	"github.com/dmdmdm-nz/netplugd/internal/api"
	"github.com/dmdmdm-nz/netplugd/internal/hook"
	"github.com/dmdmdm-nz/netplugd/internal/ifinfo"
	"github.com/dmdmdm-nz/netplugd/internal/netmon"
	"github.com/dmdmdm-nz/netplugd/internal/probe"
	"github.com/dmdmdm-nz/netplugd/internal/runtime"
	"github.com/dmdmdm-nz/netplugd/pkg/cli"
	"github.com/dmdmdm-nz/netplugd/pkg/version"
)

func main() {
	// Parse command line flags
	flags, err := cli.Parse(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if flags.ShowVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if err := setupLogging(flags.Foreground); err != nil {
		fmt.Fprintf(os.Stderr, "netplugd: %v\n", err)
		os.Exit(1)
	}

	s, err := loadSettings(flags)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	setLogLevel(s.LogLevel)

	log.Infof("Config: Patterns=%s", s.Filter)
	log.Infof("Config: Hook=%s", s.Hook)
	log.Infof("Config: ProbeMethod=%s", s.ProbeMethod)
	log.Infof("Config: Listen=%s", s.Listen)
	log.Infof("Config: TrackNewInterfaces=%v", s.TrackNewInterfaces)

	if os.Geteuid() != 0 {
		log.Warn("This daemon will not work properly unless run by root")
	}

	runner := hook.NewRunner(s.Hook)
	reprober := s.reprober(runner)

	if !flags.NoProbe {
		n, err := probe.All(s.Filter, reprober)
		if err != nil {
			log.WithError(err).Warn("Startup probe failed")
		} else {
			log.WithField("interfaces", n).Debug("Startup probe done")
		}
	}

	if !flags.Foreground && flags.PidFile != "" {
		if err := writePid(flags.PidFile); err != nil {
			log.WithError(err).Error("Failed to write pid file")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := ifinfo.NewRegistry()
	netmonSvc := netmon.NewService(netmon.NewWatcher(), netmon.EngineConfig{
		Registry:           registry,
		Filter:             s.Filter,
		Hooks:              runner,
		Reprober:           reprober,
		Metrics:            netmon.NewMetrics(reg),
		TrackNewInterfaces: s.TrackNewInterfaces,
	})

	super := runtime.NewSupervisor()
	super.Add("netmon", netmonSvc.Start, netmonSvc.Close)

	if s.Listen != "" {
		apiSvc := api.NewService(s.Listen, registry, netmonSvc, reg)
		super.Add("api", apiSvc.Start, apiSvc.Close)
	}

	if err := super.Start(ctx); err != nil {
		log.WithError(err).Error("Supervisor start failed")
		os.Exit(1)
	}
	if err := super.Wait(); err != nil {
		log.WithError(err).Error("Exiting")
		os.Exit(1)
	}
}

// setupLogging sends logs to stderr in the foreground and to syslog
// otherwise.
func setupLogging(foreground bool) error {
	if foreground {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&log.TextFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FullTimestamp:   true,
			ForceColors:     isatty.IsTerminal(os.Stderr.Fd()),
			DisableColors:   !isatty.IsTerminal(os.Stderr.Fd()),
		})
		return nil
	}

	sh, err := lSyslog.NewSyslogHook("", "", syslog.LOG_DAEMON|syslog.LOG_INFO, "netplugd")
	if err != nil {
		return fmt.Errorf("connect to syslog: %w", err)
	}
	log.AddHook(sh)
	log.SetOutput(io.Discard)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return nil
}

func setLogLevel(level string) {
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

func writePid(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
