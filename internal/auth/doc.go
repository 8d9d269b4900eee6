// Package auth decides which users may talk to the relay.
//
// An Allowlist holds the permitted user identifiers exactly as the
// transport reports them (Matrix user ids, or whatever the HTTP client
// sends). An empty list admits everyone, so a fresh install works before
// it is locked down. Transports reply "Not authorized." to anyone else and
// never forward their messages.
package auth
