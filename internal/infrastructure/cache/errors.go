package cache

import "errors"

var (
	// ErrDisabled indicates the cache is disabled in configuration.
	ErrDisabled = errors.New("cache: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("cache: connection failed")

	// ErrNotFound indicates no cached reading exists for the device.
	ErrNotFound = errors.New("cache: no reading for device")
)
