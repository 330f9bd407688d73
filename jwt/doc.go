// Package jwt reads the expiry and subject of server-issued tokens, and signs
// and verifies tokens for deployments that hold a verification key.
//
// The session core treats tokens as opaque bearer strings. Inspect is used
// only to learn an expiry the server did not state; it never establishes
// trust in a token.
package jwt
