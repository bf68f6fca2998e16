package client

import "errors"

var (
	ErrUnavailable    = errors.New("server unavailable")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrSessionExpired = errors.New("session expired, please log in again")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotLoggedIn    = errors.New("not logged in")
)
