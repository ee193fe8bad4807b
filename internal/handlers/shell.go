package handlers

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nodeagent/vserial-rpc/internal/envelope"
	"github.com/nodeagent/vserial-rpc/internal/policy"
	"github.com/nodeagent/vserial-rpc/internal/server"
)

const maxCapture = 1 << 20 // MAX_CAPTURE: 1 MiB per stream

// boundedBuffer caps how much of a subprocess stream is retained, setting
// truncated once the cap is hit instead of growing without limit.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

// ShellExec answers POST /api/v1/shell/exec: run an allow-listed command
// under a deadline, killing it with SIGTERM then SIGKILL if it overruns.
func ShellExec(commands *policy.CommandPolicy, paths *policy.PathPolicy) server.Handler {
	return func(ctx context.Context, req *server.Request) (interface{}, *server.HandlerError) {
		argv, err := paramArgv(req.Params)
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeInvalidParams, "%v", err)
		}

		if _, err := commands.CheckArgv(argv); err != nil {
			return nil, server.NewHandlerError(envelope.CodeInvalidParams, "%v", err)
		}

		workdir, _ := req.Params["working_dir"].(string)
		if workdir != "" {
			if workdir, err = paths.Canonicalize(workdir, false); err != nil {
				return nil, server.NewHandlerError(envelope.CodePermissionDenied, "%v", err)
			}
		}

		env := map[string]string{}
		if raw, ok := req.Params["env"].(map[string]interface{}); ok {
			for k, v := range raw {
				if s, ok := v.(string); ok {
					env[k] = s
				}
			}
		}

		cmd := exec.Command(argv[0], argv[1:]...)
		if workdir != "" {
			cmd.Dir = workdir
		}
		cmd.Env = policy.BuildEnv(env)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		stdout := &boundedBuffer{limit: maxCapture}
		stderr := &boundedBuffer{limit: maxCapture}
		cmd.Stdout = stdout
		cmd.Stderr = stderr

		start := time.Now()
		if err := cmd.Start(); err != nil {
			return nil, server.NewHandlerError(envelope.CodeCmdNotFound, "failed to start command: %v", err)
		}

		waitErr := make(chan error, 1)
		go func() { waitErr <- cmd.Wait() }()

		var exitCode int
		select {
		case err := <-waitErr:
			exitCode = exitCodeFromError(err)
		case <-ctx.Done():
			signalProcessGroup(cmd, syscall.SIGTERM)
			select {
			case err := <-waitErr:
				exitCode = exitCodeFromError(err)
			case <-time.After(5 * time.Second):
				signalProcessGroup(cmd, syscall.SIGKILL)
				<-waitErr
				exitCode = -1
			}
			return map[string]interface{}{
				"exit_code":   exitCode,
				"stdout":      stdout.buf.String(),
				"stderr":      stderr.buf.String(),
				"duration_ms": time.Since(start).Milliseconds(),
				"truncated":   stdout.truncated || stderr.truncated,
			}, &server.HandlerError{Code: envelope.CodeCmdTimeout, Detail: "command exceeded its deadline"}
		}

		return map[string]interface{}{
			"exit_code":   exitCode,
			"stdout":      stdout.buf.String(),
			"stderr":      stderr.buf.String(),
			"duration_ms": time.Since(start).Milliseconds(),
			"truncated":   stdout.truncated || stderr.truncated,
		}, nil
	}
}

func paramArgv(params map[string]interface{}) ([]string, error) {
	raw, ok := params["command"]
	if !ok {
		return nil, errMissing("command")
	}
	switch v := raw.(type) {
	case string:
		fields := strings.Fields(v)
		if len(fields) == 0 {
			return nil, errMissing("command")
		}
		return fields, nil
	case []interface{}:
		argv := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, errMissing("command")
			}
			argv = append(argv, s)
		}
		if len(argv) == 0 {
			return nil, errMissing("command")
		}
		return argv, nil
	default:
		return nil, errMissing("command")
	}
}

func signalProcessGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	unix.Kill(-cmd.Process.Pid, sig)
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
