package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/inspectflow/orchestrator/domain/tenant"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Tenant isolation is already enforced by the bearer token this endpoint
	// requires; the browser origin itself carries no trust decision here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const streamPollInterval = 500 * time.Millisecond

// streamExecution upgrades to a WebSocket, checks the execution every
// streamPollInterval, and pushes it whenever its status has changed since
// the last push, until it reaches a terminal state, a write fails, or the
// request context ends, giving callers a live view without polling GET
// /executions/{id}.
func (h *handler) streamExecution(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	executionID := mux.Vars(r)["executionId"]

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	var lastStatus workflowStatus
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			exec, err := h.d.Engine.Observe(r.Context(), tc.TenantID, executionID)
			if err != nil {
				_ = conn.WriteJSON(map[string]string{"error": err.Error()})
				return
			}

			status := workflowStatus(exec.Status)
			if status == lastStatus {
				continue
			}
			lastStatus = status

			if err := conn.WriteMessage(websocket.TextMessage, mustJSON(executionToJSON(exec))); err != nil {
				return
			}
			if isTerminal(status) {
				return
			}
		}
	}
}

type workflowStatus string

func isTerminal(s workflowStatus) bool {
	switch s {
	case "completed", "failed", "cancelled":
		return true
	default:
		return false
	}
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
