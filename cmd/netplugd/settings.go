package main

import (
	"errors"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netplugd/internal/config"
	"github.com/dmdmdm-nz/netplugd/internal/filter"
	"github.com/dmdmdm-nz/netplugd/internal/hook"
	"github.com/dmdmdm-nz/netplugd/internal/probe"
	"github.com/dmdmdm-nz/netplugd/pkg/cli"
)

// settings is the config file with command line overrides applied.
type settings struct {
	Filter             *filter.NameFilter
	Hook               string
	ProbeMethod        string
	Listen             string
	TrackNewInterfaces bool
	LogLevel           string
}

func loadSettings(flags *cli.Config) (*settings, error) {
	file, err := config.Load(flags.ConfigFile)
	if err != nil {
		if flags.ConfigExplicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.WithField("path", flags.ConfigFile).Warn("No config file, monitoring all interfaces")
		file = config.Default()
	}

	f, err := filter.New(file.Interfaces...)
	if err != nil {
		return nil, err
	}
	for _, p := range flags.Patterns {
		if err := f.Add(p); err != nil {
			return nil, err
		}
	}

	s := &settings{
		Filter:             f,
		Hook:               file.Hook,
		ProbeMethod:        file.ProbeMethod,
		Listen:             file.Listen,
		TrackNewInterfaces: file.TrackNewInterfaces,
		LogLevel:           file.LogLevel,
	}
	if flags.Hook != "" {
		s.Hook = flags.Hook
	}
	if s.Hook == "" {
		s.Hook = hook.DefaultScript
	}
	if flags.Listen != "" {
		s.Listen = flags.Listen
	}
	if flags.LogLevel != "" {
		s.LogLevel = flags.LogLevel
	}
	return s, nil
}

func (s *settings) reprober(runner *hook.Runner) probe.Prober {
	if s.ProbeMethod == config.ProbeNetlink {
		return probe.NewLinkProber(nil)
	}
	return runner
}
