package domain

import "errors"

var (
	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrInvalidOptions    = errors.New("invalid namespace options")
	ErrUnknownRole       = errors.New("unknown connection role")
	ErrNamespaceClosed   = errors.New("namespace is shut down")
)
