// Package guardian assembles and runs a coordination server.
//
// New takes an exclusive lock on <database.path>.lock, opens the store and
// wires the coordinator to every transport:
//
//   - gRPC (guardian.v1.Coordinator) on server.grpc_addr
//   - HTTP on server.http_addr: /health, /health/ready, /api/agents,
//     /api/outputs and Streamable MCP at /mcp
//   - MCP over stdio through RunStdio
//
// Alongside the servers it runs the output watch bridge and a retention
// sweeper that purges messages older than retention.message_max_age.
//
// The lock exists because waiters live in memory: two processes sharing
// one database would not wake each other's waiters promptly.
package guardian
