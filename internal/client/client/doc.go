// Package client is the AuthKeeper gRPC client used by the CLI.
//
// GRPCClient keeps the session (access and refresh tokens, user profile) in
// memory, attaches the access token to every call through a unary
// interceptor and, when the server answers "token expired", renews the
// access token once and replays the call. gRPC statuses are mapped onto the
// sentinel errors in errors.go.
package client
