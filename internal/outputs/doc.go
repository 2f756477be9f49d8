// Package outputs lets agents announce artifacts and wait for each other's.
//
// # Two channels
//
// Announce persists an output record, wakes every in-memory waiter for the
// announcing agent, then mails a "notification" message to every other
// registered agent. The wakeup is the low-latency path; the mailbox trail is
// the durable one that polling agents rely on. Both always happen.
//
// # Waiting without missed wakeups
//
// Wait tolerates all three orderings of wait and announce:
//
//  1. output already stored: the first store read returns it
//  2. announce lands while waiting: the waiter is resolved by Hub.Wake
//  3. nothing within the timeout: Wait returns coord.ErrOutputTimeout
//
// Between the first read and registration an announce could slip by, so
// Wait re-reads the store right after registering. Hub.Wake drains and
// clears a source's waiter list under the same mutex registration takes, so
// a waiter is either drained or still registered, never lost in between.
//
// While blocked, Wait also re-reads the store every FallbackPollInterval
// (500ms by default). This is a backstop, not the primary mechanism.
package outputs
