package constants

const (
	// StreamCopyBufferSize is the chunk size used when relaying upstream bodies.
	StreamCopyBufferSize = 32 * 1024
	// MaxBufferedErrorBody caps how much of a non-2xx body is held in memory.
	MaxBufferedErrorBody = 1 << 20
	// DefaultMaxRequestBody caps inbound chat completion payloads (10MB).
	DefaultMaxRequestBody = 10 << 20
)
