// Package mailbox implements the durable per-agent message queue.
//
// Send checks that both agents exist (reading through the presence cache to
// the store), then persists the message. A message of type "output_ready"
// carrying a file path doubles as an output announcement: it records an
// output for the sender and then wakes anyone blocked waiting on it. Unlike
// an explicit announcement it sends no broadcast.
//
// Receive returns unread messages oldest first. With markRead set, the fetch
// and the batch mark-read run under a per-recipient lock, so each message is
// delivered by exactly one Receive call.
package mailbox
