package model

import (
	"errors"
)

var (
	// ErrEngineUnavailable means the scan engine binary could not be found
	// or executed at all.
	ErrEngineUnavailable = errors.New("scan engine unavailable")
	// ErrToolUnavailable means an optional external tool is not installed.
	ErrToolUnavailable = errors.New("tool unavailable")
	// ErrNoHost means the scan engine returned no host entry for the target.
	ErrNoHost = errors.New("no host in scan result")
)
