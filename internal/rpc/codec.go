// ABOUTME: Conversion between coordination records and structpb wire values
// ABOUTME: Keeps field names identical to the MCP tool arguments

package rpc

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/store"
)

// fields is a decoded request or response body.
type fields map[string]any

func (f fields) str(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f fields) num(key string, def float64) float64 {
	if n, ok := f[key].(float64); ok {
		return n
	}
	return def
}

func (f fields) boolean(key string, def bool) bool {
	if b, ok := f[key].(bool); ok {
		return b
	}
	return def
}

func (f fields) obj(key string) (map[string]any, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object: %w", key, coord.ErrInvalidArgument)
	}
	return m, nil
}

func (f fields) strings(key string) ([]string, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list: %w", key, coord.ErrInvalidArgument)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s must contain strings: %w", key, coord.ErrInvalidArgument)
		}
		out = append(out, s)
	}
	return out, nil
}

func (f fields) list(key string) []fields {
	items, _ := f[key].([]any)
	out := make([]fields, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f fields) time(key string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, f.str(key))
	return t
}

func decode(s *structpb.Struct) fields {
	if s == nil {
		return fields{}
	}
	return s.AsMap()
}

func encode(f fields) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(f)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return s, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func stringsToList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func agentFields(a *store.Agent) map[string]any {
	return map[string]any{
		"id":             a.ID,
		"workspace_path": a.WorkspacePath,
		"capabilities":   stringsToList(a.Capabilities),
		"status":         a.Status,
		"details":        a.Details,
		"registered_at":  formatTime(a.RegisteredAt),
		"updated_at":     formatTime(a.UpdatedAt),
	}
}

func agentFromFields(f fields) *store.Agent {
	caps, _ := f.strings("capabilities")
	if caps == nil {
		caps = []string{}
	}
	return &store.Agent{
		ID:            f.str("id"),
		WorkspacePath: f.str("workspace_path"),
		Capabilities:  caps,
		Status:        f.str("status"),
		Details:       f.str("details"),
		RegisteredAt:  f.time("registered_at"),
		UpdatedAt:     f.time("updated_at"),
	}
}

func messageFields(m *store.Message) map[string]any {
	out := map[string]any{
		"id":           m.ID,
		"from_agent":   m.FromAgentID,
		"to_agent":     m.ToAgentID,
		"message_type": m.Type,
		"content":      m.Content,
		"file_path":    m.FilePath,
		"created_at":   formatTime(m.CreatedAt),
	}
	if m.ReadAt != nil {
		out["read_at"] = formatTime(*m.ReadAt)
	}
	return out
}

func messageFromFields(f fields) *store.Message {
	m := &store.Message{
		ID:          int64(f.num("id", 0)),
		FromAgentID: f.str("from_agent"),
		ToAgentID:   f.str("to_agent"),
		Type:        f.str("message_type"),
		Content:     f.str("content"),
		FilePath:    f.str("file_path"),
		CreatedAt:   f.time("created_at"),
	}
	if f.str("read_at") != "" {
		t := f.time("read_at")
		m.ReadAt = &t
	}
	return m
}

func outputFields(o *store.Output) map[string]any {
	meta := o.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"id":         o.ID,
		"agent_id":   o.AgentID,
		"file_path":  o.FilePath,
		"metadata":   meta,
		"created_at": formatTime(o.CreatedAt),
	}
}

func outputFromFields(f fields) *store.Output {
	meta, _ := f.obj("metadata")
	if meta == nil {
		meta = map[string]any{}
	}
	return &store.Output{
		ID:        int64(f.num("id", 0)),
		AgentID:   f.str("agent_id"),
		FilePath:  f.str("file_path"),
		Metadata:  meta,
		CreatedAt: f.time("created_at"),
	}
}
