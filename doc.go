// Package goSession manages the client side of an authenticated session:
// bearer credentials, their refresh, the idle timeout, step-up login and the
// agreement of every open tab on who is signed in.
//
// A tab is one [Manager]. Tabs of one application share a vault storage and
// a broadcast transport; each tab has its own rate limiter and idle timer.
// Manager methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Manager], [Builder], [Config]
// and value types (SessionChange, SessionInfo, MetricsSnapshot). Flow
// orchestration, server response normalization, the limiter and the idle
// timer live under internal/. Storage backends live under storage/ and
// broadcast transports under broadcast/.
//
// # What this package must NOT do
//
//   - Clear a stored session on a network failure. Only a server rejection
//     or an explicit logout does that.
//   - Replay a request that is not safe to replay.
//   - Show UI. Warnings and logout reasons are reported to callbacks and
//     subscribers.
//   - Import any sub-package that re-imports goSession (no import cycles).
package goSession
