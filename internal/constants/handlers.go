package constants

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// File upload constants
const (
	// MaxUploadSize is the default limit for an uploaded frame or enrollment photo (10MB)
	MaxUploadSize = 10 << 20
)

// Notification constants
const (
	// NotifyQueueSize is the number of pending notifications the dispatcher
	// buffers before dropping new ones.
	NotifyQueueSize = 256
)
