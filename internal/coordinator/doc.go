// Package coordinator is the single surface every transport wraps.
//
// It exposes the seven coordination operations (RegisterAgent, UpdateStatus,
// SendMessage, CheckMessages, AnnounceOutput, WaitForOutput, ListAgents)
// plus a few maintenance helpers, and traces each call with OpenTelemetry.
// Registering an agent also starts watching <workspace>/outputs so files the
// agent drops there are announced automatically.
//
// Errors come from package coord and are classified with coord.Code.
package coordinator
