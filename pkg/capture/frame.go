// Package capture decouples a continuously producing screen-capture source
// from a slower, on-demand consumer using a single-slot latest-frame-wins
// cache with wake notification.
package capture

// Frame is a captured video frame. Frames are immutable once produced and
// shared by reference; holders must not modify Data.
type Frame struct {
	Width  uint32
	Height uint32
	Data   []byte
}

// FrameKind tags the payload a capture source produced.
type FrameKind int

const (
	// FrameVideo is a raw video frame.
	FrameVideo FrameKind = iota
	// FrameAudio is an audio chunk; the pipeline does not consume audio.
	FrameAudio
)

// PixelFormat names the pixel layout of a video frame.
type PixelFormat string

// PixelFormatBGRA is the only format the pipeline accepts: 4 bytes per
// pixel, blue first.
const PixelFormatBGRA PixelFormat = "bgra"

// RawFrame is a tagged frame as yielded by a capture source.
type RawFrame struct {
	Kind   FrameKind
	Format PixelFormat
	Width  uint32
	Height uint32
	Data   []byte
}

// Source is the boundary to the platform capture library.
type Source interface {
	// Start begins capture. Called once before the first Next.
	Start() error
	// Next blocks until the source produces a frame and returns an error
	// once the source is permanently closed.
	Next() (RawFrame, error)
}
