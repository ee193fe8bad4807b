package handlers

import (
	"context"
	"os/exec"
	"strings"

	"github.com/nodeagent/vserial-rpc/internal/envelope"
	"github.com/nodeagent/vserial-rpc/internal/server"
)

const forbiddenUnitChars = "|&;`$><\n\r "

// serviceActions is the closed set of actions service/control accepts;
// anything else is a client error, not a pass-through to systemctl.
var serviceActions = map[string]bool{
	"start": true, "stop": true, "restart": true,
	"status": true, "enable": true, "disable": true,
}

// ServiceControl answers POST /api/v1/service/control: start/stop/restart/
// status/enable/disable a named systemd unit.
func ServiceControl() server.Handler {
	return func(ctx context.Context, req *server.Request) (interface{}, *server.HandlerError) {
		unit, err := paramString(req.Params, "unit")
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeMissingRequired, "%v", err)
		}
		action, err := paramString(req.Params, "action")
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeMissingRequired, "%v", err)
		}
		if !serviceActions[action] {
			return nil, server.NewHandlerError(envelope.CodeInvalidParams, "unsupported action: %s", action)
		}
		if strings.ContainsAny(unit, forbiddenUnitChars) {
			return nil, server.NewHandlerError(envelope.CodeInvalidParams, "invalid unit name")
		}

		cmd := exec.CommandContext(ctx, "systemctl", action, unit)
		var stdout, stderr strings.Builder
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err = cmd.Run()
		exitCode := exitCodeFromError(err)

		if action == "status" {
			// systemctl status returns non-zero for inactive units; that's
			// a valid answer, not a handler failure.
			return map[string]interface{}{
				"unit":      unit,
				"action":    action,
				"exit_code": exitCode,
				"output":    stdout.String() + stderr.String(),
			}, nil
		}

		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeCmdExecFailed, "systemctl %s %s: %s", action, unit, stderr.String())
		}

		return map[string]interface{}{
			"unit":      unit,
			"action":    action,
			"exit_code": exitCode,
		}, nil
	}
}
