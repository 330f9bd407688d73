// Package rate provides the per-tab sliding-window request limiter consulted
// before every network attempt made by the session core.
//
// # Window semantics
//
// Wall-clock time is divided into fixed buckets of Config.Window. A request of
// class C is admitted while count(C, current) + count(C, previous) is below
// the ceiling for C. Buckets older than the previous one are purged.
//
// Classes:
//   - refresh: token refresh exchanges (strict)
//   - api: authenticated requests
//   - login: credential submissions
//   - two_factor: step-up code submissions
//
// # What this package must NOT do
//
//   - Perform I/O or share counters across tabs.
//   - Be imported outside the goSession module.
package rate
