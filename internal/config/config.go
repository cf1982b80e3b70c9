// Package config loads the netplugd configuration file.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultPath is read when no -c flag is given.
	DefaultPath = "/etc/netplug/netplugd.conf"

	ProbeScript  = "script"
	ProbeNetlink = "netlink"
)

// File is the parsed configuration. The legacy format only fills Interfaces.
type File struct {
	Interfaces         []string `yaml:"interfaces"`
	Hook               string   `yaml:"hook"`
	ProbeMethod        string   `yaml:"probe_method"`
	Listen             string   `yaml:"listen"`
	TrackNewInterfaces bool     `yaml:"track_new_interfaces"`
	LogLevel           string   `yaml:"log_level"`
}

func (f *File) load() error {
	if f.ProbeMethod == "" {
		f.ProbeMethod = ProbeScript
	}

	switch f.ProbeMethod {
	case ProbeScript, ProbeNetlink:
	default:
		return fmt.Errorf("invalid probe_method %q (want %s or %s)", f.ProbeMethod, ProbeScript, ProbeNetlink)
	}

	for _, p := range f.Interfaces {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty interface pattern")
		}
	}

	return nil
}

// Load reads the file at path. Files ending in .yaml or .yml are YAML, any
// other file is the netplugd.conf format of one or more patterns per line.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read file")
	}

	f := &File{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(b, f); err != nil {
			return nil, errors.Wrapf(err, "Unable to unmarshal %s", path)
		}
	default:
		f.Interfaces, err = parsePatterns(b)
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to parse %s", path)
		}
	}

	if err := f.load(); err != nil {
		return nil, errors.Wrapf(err, "Invalid config %s", path)
	}

	return f, nil
}

// Default returns the configuration used when no file is present.
func Default() *File {
	f := &File{}
	_ = f.load()
	return f
}

// parsePatterns reads netplugd.conf: "#" starts a comment, blank lines are
// skipped, and whitespace separates patterns.
func parsePatterns(b []byte) ([]string, error) {
	var patterns []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		patterns = append(patterns, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}
