// Package broadcast carries session events between tabs.
//
// A [Broadcaster] wraps a [Transport] with a per-tab origin id. Messages it
// emits are stamped with that id and dropped again when the transport echoes
// them back, so a tab never reacts to its own events.
//
// # Architecture boundaries
//
// Transports only move [Message] envelopes. They know nothing about sessions,
// vault records or idle timers; the session manager decides what an event
// means for local state.
//
// # What this package must NOT do
//
//   - Re-emit a received event.
//   - Block a publisher on a slow subscriber in another tab.
package broadcast
