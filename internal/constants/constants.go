// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Listing constants
const (
	// DefaultAttendanceLimit is the default number of events returned by attendance listings
	DefaultAttendanceLimit = 500

	// DefaultNearDuplicateLimit is how many close reference embeddings enrollment inspects
	DefaultNearDuplicateLimit = 5
)

// Processing constants
const (
	// DefaultConcurrency is the default number of parallel enrollment workers
	DefaultConcurrency = 4

	// MaxImageSize is the maximum dimension (width or height) of enrollment photos
	// before they are sent to the detector
	MaxImageSize = 1920
)

// File upload constants
const (
	// MaxFrameUploadSize is the maximum size of one uploaded camera frame in bytes (8MB)
	MaxFrameUploadSize = 8 << 20
)
