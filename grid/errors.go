package grid

import "errors"

var (
	// ErrInvalidGrid indicates non-positive voxel counts or sizes, or a negative padding.
	ErrInvalidGrid = errors.New("grid: voxel counts and sizes must be positive and padding non-negative")
	// ErrInsufficientPadding indicates the halo is narrower than a support window can reach.
	ErrInsufficientPadding = errors.New("grid: padding too small for support window")
	// ErrBufferSize indicates a buffer whose length does not match the padded grid.
	ErrBufferSize = errors.New("grid: buffer length does not match padded grid")
)
