// Package rpc serves the coordinator over gRPC for the guardian CLI.
//
// The service guardian.v1.Coordinator is registered by hand rather than from
// generated stubs. Every method is unary and carries a google.protobuf.Struct
// in both directions, using the same field names as the MCP tools
// (agent_id, from_agent, timeout_ms and so on). Times travel as RFC 3339
// strings.
//
// Errors map onto status codes:
//
//	unknown_agent      NotFound
//	output_timeout     DeadlineExceeded
//	store_unavailable  Unavailable
//	invalid_argument   InvalidArgument
//
// Client converts them back so errors.Is works against the coord sentinels
// on both sides of the wire.
package rpc
