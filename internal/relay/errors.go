package relay

import "errors"

var (
	ErrGroupNotFound    = errors.New("group not found")
	ErrGroupExists      = errors.New("group already exists")
	ErrEndpointNotFound = errors.New("endpoint not found")
)
