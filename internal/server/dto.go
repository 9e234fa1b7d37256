package server

import (
	"agentsim/internal/catalog"
	"agentsim/internal/session"
)

// Request payloads

type SelectAgentRequest struct {
	Name string `json:"name"`
}

// QueryRequest carries either free text or structured values; structured
// values are validated against the agent's input schema.
type QueryRequest struct {
	Content string         `json:"content,omitempty"`
	Values  map[string]any `json:"values,omitempty"`
}

type FinalResponseRequest struct {
	Content string         `json:"content,omitempty"`
	Values  map[string]any `json:"values,omitempty"`
}

type InvokeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type ExportRequest struct {
	// Path overrides the configured collection file for this export.
	Path string `json:"path,omitempty"`
}

// Response payloads

type SessionResponse struct {
	SessionID      string   `json:"session_id"`
	State          string   `json:"state"`
	Agent          string   `json:"agent,omitempty"`
	StartedAt      *int64   `json:"started_at,omitempty"`
	PendingCallIDs []string `json:"pending_call_ids"`
}

type AgentSummary struct {
	Name        string   `json:"name"`
	Instruction string   `json:"instruction,omitempty"`
	Tools       []string `json:"tools"`
}

type InvokeResponse struct {
	CallID string `json:"call_id"`
}

type HistoryResponse struct {
	SessionID string          `json:"session_id"`
	Entries   []session.Entry `json:"entries"`
}

func sessionResponse(s *session.Session) SessionResponse {
	resp := SessionResponse{
		SessionID:      s.ID,
		State:          string(s.State()),
		Agent:          s.AgentName,
		PendingCallIDs: s.PendingCalls(),
	}
	if !s.StartedAt.IsZero() {
		ts := s.StartedAt.Unix()
		resp.StartedAt = &ts
	}
	return resp
}

func agentSummary(p catalog.Profile) AgentSummary {
	names := make([]string, 0, len(p.Tools))
	for _, t := range p.Tools {
		names = append(names, t.Name)
	}
	return AgentSummary{Name: p.Name, Instruction: p.Instruction, Tools: names}
}

func mapAgents(profiles []catalog.Profile) []AgentSummary {
	out := make([]AgentSummary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, agentSummary(p))
	}
	return out
}
