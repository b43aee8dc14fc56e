// Package screen captures the desktop as raw BGRA video by running ffmpeg as
// a child process and reading frames off its stdout.
package screen

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"

	"go.uber.org/zap"

	"github.com/saker-ai/screen-watcher/pkg/capture"
)

// Options configures the ffmpeg capture process.
type Options struct {
	// FFmpegPath overrides the binary looked up on PATH.
	FFmpegPath string
	// Display selects the capture input: an X display like ":0.0" on Linux,
	// an avfoundation device index on macOS. Ignored on Windows where the
	// whole desktop is grabbed.
	Display string
	// Width and Height are the capture dimensions.
	Width  uint32
	Height uint32
	// FrameRate is the grab rate in frames per second.
	FrameRate int
}

func (o *Options) applyDefaults() {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.Width == 0 {
		o.Width = 1280
	}
	if o.Height == 0 {
		o.Height = 720
	}
	if o.FrameRate <= 0 {
		o.FrameRate = 1
	}
}

// Source runs ffmpeg and yields one RawFrame per width*height*4 bytes read
// from its stdout. It satisfies capture.Source.
type Source struct {
	opts   Options
	logger *zap.Logger

	cmd    *exec.Cmd
	frames *frameReader
}

// New creates a source; the process starts on Start.
func New(opts Options, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &Source{opts: opts, logger: logger}
}

// Start launches the ffmpeg process. Its stderr is drained into debug logs so
// a wedged pipe never blocks the capture.
func (s *Source) Start() error {
	args, err := grabArgs(runtime.GOOS, s.opts)
	if err != nil {
		return err
	}

	cmd := exec.Command(s.opts.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.frames = newFrameReader(stdout, s.opts.Width, s.opts.Height)
	go s.drainStderr(stderr)

	s.logger.Info("screen capture started",
		zap.String("ffmpeg", s.opts.FFmpegPath),
		zap.Uint32("width", s.opts.Width),
		zap.Uint32("height", s.opts.Height),
		zap.Int("frame_rate", s.opts.FrameRate),
	)
	return nil
}

// Next blocks until a full frame has been read from the process.
func (s *Source) Next() (capture.RawFrame, error) {
	if s.frames == nil {
		return capture.RawFrame{}, errors.New("capture not started")
	}
	return s.frames.next()
}

// Stop kills the ffmpeg process and reaps it. Safe to call once Start has
// succeeded; the pending Next unblocks with an error.
func (s *Source) Stop() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill ffmpeg: %w", err)
	}
	_ = s.cmd.Wait()
	return nil
}

func (s *Source) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Debug("ffmpeg", zap.String("line", scanner.Text()))
	}
}

// grabArgs builds the platform-specific ffmpeg argument list: a screen grab
// input and a raw BGRA stream on stdout.
func grabArgs(goos string, opts Options) ([]string, error) {
	size := fmt.Sprintf("%dx%d", opts.Width, opts.Height)
	rate := strconv.Itoa(opts.FrameRate)

	var input []string
	switch goos {
	case "linux":
		display := opts.Display
		if display == "" {
			display = ":0.0"
		}
		input = []string{
			"-f", "x11grab",
			"-framerate", rate,
			"-video_size", size,
			"-i", display,
		}
	case "darwin":
		device := opts.Display
		if device == "" {
			device = "1"
		}
		input = []string{
			"-f", "avfoundation",
			"-framerate", rate,
			"-i", device + ":none",
		}
	case "windows":
		input = []string{
			"-f", "gdigrab",
			"-framerate", rate,
			"-i", "desktop",
		}
	default:
		return nil, fmt.Errorf("screen capture not supported on %s", goos)
	}

	args := append([]string{"-hide_banner", "-loglevel", "error"}, input...)
	return append(args,
		"-vf", "scale="+size,
		"-pix_fmt", "bgra",
		"-f", "rawvideo",
		"pipe:1",
	), nil
}

// frameReader chunks a byte stream into fixed-size BGRA frames.
type frameReader struct {
	r      io.Reader
	width  uint32
	height uint32
	size   int
}

func newFrameReader(r io.Reader, width uint32, height uint32) *frameReader {
	return &frameReader{
		r:      r,
		width:  width,
		height: height,
		size:   int(width) * int(height) * 4,
	}
}

func (f *frameReader) next() (capture.RawFrame, error) {
	// Fresh buffer per frame; the consumer may hold the previous one.
	buf := make([]byte, f.size)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return capture.RawFrame{}, fmt.Errorf("truncated frame: %w", err)
		}
		return capture.RawFrame{}, err
	}
	return capture.RawFrame{
		Kind:   capture.FrameVideo,
		Format: capture.PixelFormatBGRA,
		Width:  f.width,
		Height: f.height,
		Data:   buf,
	}, nil
}
