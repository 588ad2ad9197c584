package session

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrDuplicateName = errors.New("duplicate name")
	ErrBadRequest    = errors.New("bad request")
	ErrUnknownGroup  = errors.New("unknown group")
	ErrNotJoined     = errors.New("connection has not joined the group")
)
