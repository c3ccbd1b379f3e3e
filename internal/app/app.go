// Package app dispatches rebuttal commands and runs the owner debate session.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rbright/rebuttal/internal/audio"
	"github.com/rbright/rebuttal/internal/cli"
	"github.com/rbright/rebuttal/internal/config"
	"github.com/rbright/rebuttal/internal/doctor"
	"github.com/rbright/rebuttal/internal/ipc"
	"github.com/rbright/rebuttal/internal/logging"
	"github.com/rbright/rebuttal/internal/version"
)

const (
	binaryName     = "rebuttal"
	forwardTimeout = 220 * time.Millisecond
	idleState      = "idle"
)

type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	r := Runner{Stdin: stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	switch {
	case parsed.ShowHelp:
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	case parsed.Command == cli.CommandVersion:
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	rt, err := r.prepare(parsed)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer rt.close()

	rt.logger.Info("command start",
		"command", parsed.Command,
		"config", rt.loaded.Path,
		"log", rt.logPath,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, rt.loaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.forward(ctx, ipc.Request{Command: ipc.CommandStatus}, false)
	case cli.CommandToggle, cli.CommandPause, cli.CommandResume, cli.CommandTurn:
		return r.forward(ctx, ipc.Request{Command: string(parsed.Command)}, true)
	case cli.CommandSend:
		return r.forward(ctx, ipc.Request{Command: ipc.CommandSend, Text: parsed.Text}, true)
	case cli.CommandDebate:
		return r.commandDebate(ctx, rt.loaded.Config, parsed.Debate, rt.logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// commandEnv is what every non-trivial command needs: config and a logger.
type commandEnv struct {
	loaded  config.Loaded
	logger  *slog.Logger
	logPath string
	close   func()
}

// prepare loads .env, opens the log file, and loads config, echoing config
// warnings to stderr.
func (r Runner) prepare(parsed cli.Parsed) (commandEnv, error) {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(r.Stderr, "warning: load .env: %v\n", err)
	}

	logRuntime, err := logging.New()
	if err != nil {
		return commandEnv{}, fmt.Errorf("setup logging: %w", err)
	}
	rt := commandEnv{
		logger:  logRuntime.Logger,
		logPath: logRuntime.Path,
		close:   func() { _ = logRuntime.Close() },
	}
	if r.Logger != nil {
		rt.logger = r.Logger
	}

	loaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		rt.logger.Error("load config failed", "error", err.Error())
		rt.close()
		return commandEnv{}, err
	}
	for _, w := range loaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		rt.logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}
	rt.loaded = loaded
	return rt, nil
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		mark := " "
		if device.Default {
			mark = "*"
		}
		fmt.Fprintf(r.Stdout, "%s %s  %q  state=%s available=%t muted=%t\n",
			mark, device.ID, device.Description, device.State, device.Available, device.Muted)
	}
	return 0
}

// forward relays req to the session owner. Without an owner, status prints
// idle while every other command fails.
func (r Runner) forward(ctx context.Context, req ipc.Request, requireOwner bool) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		if !requireOwner {
			fmt.Fprintln(r.Stdout, idleState)
			return 0
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req)
	switch {
	case !handled && requireOwner:
		fmt.Fprintln(r.Stderr, "error: no active rebuttal session")
		return 1
	case !handled:
		fmt.Fprintln(r.Stdout, idleState)
		return 0
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if req.Command == ipc.CommandStatus {
		state := resp.State
		if state == "" {
			state = idleState
		}
		fmt.Fprintln(r.Stdout, state)
		return 0
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// tryForward reports handled=false when no owner is listening.
func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, forwardTimeout)
	switch {
	case err == nil && resp.OK:
		return resp, true, nil
	case err == nil:
		return resp, true, errors.New(resp.Error)
	case ipc.IsNoOwner(err):
		return ipc.Response{}, false, nil
	default:
		return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
	}
}
