// Package auth issues and validates the bearer tokens that guard the
// bridge's control API.
//
// There are no user accounts: an operator mints a token with the
// `ipx800bridge token` command and hands it to whatever drives the relays.
// Tokens are HS256 JWTs carrying a subject and one of three roles, and the
// role-permission map is static.
package auth
