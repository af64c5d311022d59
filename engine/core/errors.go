package core

import (
	"errors"
)

var (
	ErrSwapchainBooting  = errors.New("swapchain resized or recreated, booting")
	ErrFenceTimeout      = errors.New("fence wait timed out")
	ErrDeviceRemoved     = errors.New("device removed")
	ErrResourceCreation  = errors.New("resource creation failed")
	ErrInvalidState      = errors.New("resource used in an invalid state")
	ErrInvalidTransition = errors.New("invalid frame state transition")
	ErrSignatureMismatch = errors.New("command signature does not match argument layout")
	ErrOutOfBounds       = errors.New("access out of resource bounds")
	ErrNotMappable       = errors.New("resource heap is not host visible")
	ErrAllocatorInUse    = errors.New("command allocator reset while its lists are executing")
	ErrCommandListClosed = errors.New("command list is closed")
	ErrCommandListOpen   = errors.New("command list is still recording")
	ErrUnsupported       = errors.New("unsupported by device")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnknown           = errors.New("unknown")
)
