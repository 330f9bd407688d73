// Package middleware adapts a goSession.Manager to net/http.
//
// # Adapters
//
//   - [RoundTripper] sends outbound requests through Manager.ExecuteAuthenticated,
//     so any http.Client gets bearer tokens, proactive refresh and the single
//     retry after a 401.
//   - [RequireSession] guards local handlers and injects the signed-in user
//     into the request context.
//   - [TrackActivity] counts every handled request as user activity for the
//     idle timer.
//
// # What this package must NOT do
//
//   - Read or write tokens directly (the Manager owns them).
//   - Refresh or retry on its own. Every decision is delegated to the Manager.
package middleware
