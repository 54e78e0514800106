package config

import "errors"

// ErrEnvironment marks a required environment variable that is missing or
// unparsable. Fatal at configuration resolution.
var ErrEnvironment = errors.New("environment error")
