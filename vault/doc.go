// Package vault provides the credential vault: durable storage of the current
// credential set and sanitized user snapshot, shared by every tab of the same
// origin through a caller-supplied key/value [Storage].
//
// # Record encoding
//
// The record is one JSON document under "<prefix>:record" carrying a schema
// version. Records that fail the shape check (unknown version, undecodable,
// access token without expiry) are discarded on read rather than surfaced.
// When a [Sealer] is configured the document is AEAD-sealed before it reaches
// the storage.
//
// # Architecture boundaries
//
// This package owns persistence and the [Record] model. It does NOT decide
// when to refresh, which broadcast event a change maps to, or whether a tab is
// authenticated; it only reports every write through [Notifier].
//
// # What this package must NOT do
//
//   - Import goSession, broadcast, or flows (no upward imports).
//   - Persist passwords or any secret other than the bearer tokens.
//   - Partially write a token without its expiry.
package vault
