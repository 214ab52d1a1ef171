package config

import "errors"

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// ErrLoadConfig is wrapped when a source cannot be read or decoded.
var ErrLoadConfig = errors.New("load config failed")
