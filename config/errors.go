package config

import "errors"

// ErrInvalidConfig is returned when a loaded configuration cannot drive a fit.
var ErrInvalidConfig = errors.New("config: invalid configuration")
