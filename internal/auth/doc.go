// Package auth issues and validates the bearer tokens of the status API.
//
// Tokens are HS256 JWTs carrying a subject and a role:
//   - viewer may read link state, statistics and the journal
//   - operator may additionally activate and deactivate the link
//
// Permissions are a static role mapping; no database lookup is involved.
package auth
