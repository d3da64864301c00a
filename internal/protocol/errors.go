package protocol

import "errors"

var (
	ErrInvalid = errors.New("protocol: invalid message")
	ErrEmpty   = errors.New("protocol: empty frame")
)
