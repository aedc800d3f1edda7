// Package auth provides user accounts and HS256 session tokens for the
// relay's HTTP surface.
//
// Users register and log in with a name and password; both return a signed
// token carrying the user id and the login time. Clients present the token
// in the x-auth-token header (or a token query parameter, for browsers
// that cannot set headers on a websocket handshake). Middleware verifies
// the token and confirms the user still exists before the request reaches
// the websocket upgrade.
package auth
