// Package flows contains pure-function orchestrators for every Manager operation.
//
// Each flow function (RunLogin, RunRefresh, RunExecute, RunLogout,
// RunBootstrap) accepts a typed dependency struct and returns a result with a
// failure kind. The root package maps failure kinds to its sentinel errors,
// metrics and audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate the vault, rate limiter, auth API client and
// request transport. They do NOT own any of these resources; ownership stays
// with the Manager, which also owns state transitions and broadcasts.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goSession (to avoid import cycles).
//   - Retry anything beyond the single documented 401 retry.
package flows
