package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dmdmdm-nz/netplugd/internal/config"
	"github.com/dmdmdm-nz/netplugd/internal/filter"
)

// Config holds the application configuration from CLI flags
type Config struct {
	Foreground  bool
	NoProbe     bool
	ConfigFile  string
	Patterns    []string
	PidFile     string
	LogLevel    string
	Listen      string
	Hook        string
	ShowVersion bool

	// ConfigExplicit is set when -c was given, making a missing file fatal.
	ConfigExplicit bool
}

type patternList struct {
	patterns *[]string
}

func (p patternList) String() string {
	if p.patterns == nil {
		return ""
	}
	return strings.Join(*p.patterns, " ")
}

func (p patternList) Set(v string) error {
	if _, err := filter.New(v); err != nil {
		return fmt.Errorf("Bad pattern for '-i %s'", v)
	}
	*p.patterns = append(*p.patterns, v)
	return nil
}

// Parse parses args (without the program name). Usage goes to out. -h
// returns flag.ErrHelp; any other error means the command line was bad.
func Parse(args []string, out io.Writer) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("netplugd", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintln(out, "Usage: netplugd [-FP] [-c config-file] [-i interface-pattern] [-p pid-file]")
		fs.PrintDefaults()
	}

	fs.BoolVar(&cfg.Foreground, "F", false, "Run in foreground and log to stderr")
	fs.BoolVar(&cfg.NoProbe, "P", false, "Do not probe interfaces at startup")
	fs.StringVar(&cfg.ConfigFile, "c", config.DefaultPath, "Read interface patterns from this file")
	fs.Var(patternList{&cfg.Patterns}, "i", "Monitor interfaces matching this pattern (repeatable)")
	fs.StringVar(&cfg.PidFile, "p", "", "Write the daemon pid to this file")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.Listen, "listen", "", "Serve the status API on this host:port")
	fs.StringVar(&cfg.Hook, "hook", "", "Script run on link events")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "c" {
			cfg.ConfigExplicit = true
		}
	})

	return cfg, nil
}

// String returns a string representation of the Config
func (c *Config) String() string {
	return fmt.Sprintf("Foreground: %t, NoProbe: %t, ConfigFile: %s, Patterns: %v, PidFile: %s, Listen: %s, LogLevel: %s",
		c.Foreground, c.NoProbe, c.ConfigFile, c.Patterns, c.PidFile, c.Listen, c.LogLevel)
}
