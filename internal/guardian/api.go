// ABOUTME: HTTP handlers for health checks and the read-only JSON API
// ABOUTME: Serves agent listings and recent outputs for dashboards and scripts

package guardian

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/store"
)

// AgentResponse is one agent in GET /api/agents.
type AgentResponse struct {
	ID            string   `json:"id"`
	WorkspacePath string   `json:"workspace_path"`
	Capabilities  []string `json:"capabilities"`
	Status        string   `json:"status"`
	Details       string   `json:"details,omitempty"`
	RegisteredAt  string   `json:"registered_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// OutputResponse is one output in GET /api/outputs.
type OutputResponse struct {
	ID        int64          `json:"id"`
	AgentID   string         `json:"agent_id"`
	FilePath  string         `json:"file_path"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Guardian) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (g *Guardian) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unavailable: %v", err)
		return
	}
	agents := g.coord.ActiveAgents()
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d active agents)", len(agents))
}

// handleListAgents handles GET /api/agents.
// Supports optional ?status=X to filter by status label.
func (g *Guardian) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	agents, err := g.coord.ListAgents(r.Context())
	if err != nil {
		g.sendJSONError(w, httpStatus(err), err.Error())
		return
	}

	statusFilter := r.URL.Query().Get("status")
	response := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		if statusFilter != "" && a.Status != statusFilter {
			continue
		}
		response = append(response, agentResponse(a))
	}

	g.sendJSON(w, response)
}

// handleListOutputs handles GET /api/outputs?since=<RFC 3339>.
// Without since it returns outputs from the last hour.
func (g *Guardian) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	since := time.Now().Add(-time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	outs, err := g.coord.OutputsSince(r.Context(), since)
	if err != nil {
		g.sendJSONError(w, httpStatus(err), err.Error())
		return
	}

	response := make([]OutputResponse, 0, len(outs))
	for _, o := range outs {
		response = append(response, OutputResponse{
			ID:        o.ID,
			AgentID:   o.AgentID,
			FilePath:  o.FilePath,
			Metadata:  o.Metadata,
			CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	g.sendJSON(w, response)
}

func agentResponse(a *store.Agent) AgentResponse {
	return AgentResponse{
		ID:            a.ID,
		WorkspacePath: a.WorkspacePath,
		Capabilities:  a.Capabilities,
		Status:        a.Status,
		Details:       a.Details,
		RegisteredAt:  a.RegisteredAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func httpStatus(err error) int {
	switch coord.Code(err) {
	case coord.CodeUnknownAgent:
		return http.StatusNotFound
	case coord.CodeInvalidArgument:
		return http.StatusBadRequest
	case coord.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (g *Guardian) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("writing JSON response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Guardian) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
