// Package mcp exposes the coordination operations as MCP tools.
//
// # Tools
//
//   - register_agent(agent_id, workspace_path, capabilities?)
//   - send_message(from_agent, to_agent, message_type, content, file_path?)
//   - check_messages(agent_id, mark_as_read = true)
//   - notify_output_ready(agent_id, file_path, metadata?)
//   - wait_for_output(waiting_agent, from_agent, timeout_ms = 30000)
//   - update_status(agent_id, status, details?)
//   - get_agent_list()
//
// Every tool replies with plain text. Failures come back as tool results
// with IsError set and text of the form "Error: <message>", except a wait
// that runs out of time, which reads "Timeout waiting for output from <id>".
//
// # Transports
//
// The guardian mcp command serves one agent over stdio:
//
//	{
//	  "mcpServers": {
//	    "guardian": {"command": "guardian", "args": ["mcp"]}
//	  }
//	}
//
// guardian serve mounts HTTPHandler at /mcp so many agents share one
// process and one set of in-memory waiters:
//
//	{
//	  "mcpServers": {
//	    "guardian": {"url": "http://localhost:8090/mcp"}
//	  }
//	}
package mcp
