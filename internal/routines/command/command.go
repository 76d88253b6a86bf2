// Package command runs an external program as a routine action.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	logx "routined/pkg/logx"
)

// Kind is the routine kind handled by this package.
const Kind = "command"

// Config is the "command" routine config.
//
// Example:
//
//	config: {command: restic, args: [backup, /srv], dir: /srv, env: {RESTIC_REPOSITORY: /backup}}
type Config struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

const (
	// outputTail bounds how much combined output is logged and reported.
	outputTail = 2048
	// waitDelay bounds how long output pipes may stay open after the
	// process is killed on cancellation.
	waitDelay = time.Second
)

type Command struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Command, error) {
	cfg.Command = strings.TrimSpace(cfg.Command)
	if cfg.Command == "" {
		return nil, errors.New("command: required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Command{cfg: cfg, log: log}, nil
}

// Run starts the command and waits for it. A non-zero exit is an error that
// carries the tail of the output.
func (c *Command) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	cmd.WaitDelay = waitDelay
	if len(c.cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range c.cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	tail := lastBytes(out.String(), outputTail)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("%s exited with code %d", c.cfg.Command, exitErr.ExitCode())
		} else {
			err = fmt.Errorf("%s: %w", c.cfg.Command, err)
		}
		if tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		return err
	}
	if tail != "" {
		c.log.Debug("command output", logx.String("command", c.cfg.Command), logx.String("output", tail))
	}
	return nil
}

func lastBytes(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
