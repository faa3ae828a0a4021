package repositories

import "errors"

var ErrNotFound = errors.New("not found")

const (
	DefaultDeviceEventLimit = 20
	MaxDeviceEventLimit     = 200

	DefaultEventLimit = 200
	MaxEventLimit     = 1000
)

// ClampDeviceLimit bounds a per-device event limit to [0, 200].
func ClampDeviceLimit(limit int) int {
	return clamp(limit, 0, MaxDeviceEventLimit)
}

// ClampEventLimit bounds a global event limit to [1, 1000].
func ClampEventLimit(limit int) int {
	return clamp(limit, 1, MaxEventLimit)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
