// Package auth is the account and session engine behind HookScraper:
// sign-up and sign-in with optional TOTP two-factor, JWT access
// tokens, opaque refresh tokens bound to durable sessions, password
// reset and change, email verification, device management and full
// account deletion.
//
// An Engine is assembled through the Builder and is safe for
// concurrent use. Persistence is pluggable: store/memstore for tests
// and small deployments, store/pgstore for PostgreSQL, and
// store/redisstore to keep sessions and refresh tokens in Redis while
// accounts live in the relational store.
package auth
