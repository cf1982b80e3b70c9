// Package hook runs the operator's interface script.
package hook

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultScript is where netplug installs its hook.
const DefaultScript = "/etc/netplug.d/netplug"

// VerbProbe asks the script to bring the interface up.
const VerbProbe = "probe"

// Runner invokes Script as "<script> <interface> <verb>".
type Runner struct {
	Script string
}

func NewRunner(script string) *Runner {
	if script == "" {
		script = DefaultScript
	}
	return &Runner{Script: script}
}

// Invoke starts the script in the background and returns immediately. The
// outcome is only logged.
func (r *Runner) Invoke(name string, verb string) {
	logger := log.WithFields(log.Fields{
		"interface": name,
		"verb":      verb,
		"run":       uuid.NewString(),
	})
	logger.Debug("Starting hook")

	go func() {
		if err := r.run(context.Background(), name, verb); err != nil {
			logger.WithError(err).Error("Hook failed")
			return
		}
		logger.Info("Hook completed")
	}()
}

// Probe runs the script with the probe verb and waits for it. A zero exit
// status is success.
func (r *Runner) Probe(name string) error {
	return r.run(context.Background(), name, VerbProbe)
}

func (r *Runner) run(ctx context.Context, name string, verb string) error {
	cmd := exec.CommandContext(ctx, r.Script, name, verb)
	return runCmd(cmd)
}

func runCmd(cmd *exec.Cmd) error {
	buf := new(bytes.Buffer)
	cmd.Stderr = buf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("runCmd: %s failed (stderr: %s): %w",
			strings.Join(cmd.Args, " "), strings.TrimSpace(buf.String()), err)
	}
	return nil
}
