package handlers

import (
	"context"
	"testing"

	"github.com/nodeagent/vserial-rpc/internal/server"
)

func TestServiceControlRejectsUnknownAction(t *testing.T) {
	h := ServiceControl()
	_, herr := h(context.Background(), &server.Request{Params: map[string]interface{}{
		"unit":   "sshd",
		"action": "reboot",
	}})
	if herr == nil {
		t.Fatal("expected rejection for unsupported action")
	}
}

func TestServiceControlRejectsMissingUnit(t *testing.T) {
	h := ServiceControl()
	_, herr := h(context.Background(), &server.Request{Params: map[string]interface{}{
		"action": "status",
	}})
	if herr == nil {
		t.Fatal("expected rejection for missing unit")
	}
}

func TestServiceControlRejectsUnitWithShellMetacharacters(t *testing.T) {
	h := ServiceControl()
	_, herr := h(context.Background(), &server.Request{Params: map[string]interface{}{
		"unit":   "sshd; rm -rf /",
		"action": "status",
	}})
	if herr == nil {
		t.Fatal("expected rejection for unit name with metacharacters")
	}
}
