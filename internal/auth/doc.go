// Package auth provides bearer-token authentication for the gateway's HTTP API.
//
// Tokens are HS256 JWTs carrying a "sub" (user id) and "ws" (workspace id)
// claim. The middleware verifies the token and attaches an AuthContext to the
// request context; handlers read it with FromContext to enforce workspace
// ownership on every approval and channel operation.
//
// Authentication failures never leak resource existence: a missing or invalid
// credential is always a bare 401.
package auth
