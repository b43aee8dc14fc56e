// Package app wires the watcher together: screen capture, the live session,
// the frame and receive loops, and the optional debug server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/screen-watcher/internal/config"
	"github.com/saker-ai/screen-watcher/internal/httpapi"
	applogger "github.com/saker-ai/screen-watcher/internal/logger"
	"github.com/saker-ai/screen-watcher/internal/metrics"
	"github.com/saker-ai/screen-watcher/internal/screen"
	"github.com/saker-ai/screen-watcher/internal/streamer"
	"github.com/saker-ai/screen-watcher/pkg/capture"
	"github.com/saker-ai/screen-watcher/pkg/gemini"
)

const shutdownTimeout = 5 * time.Second

// App represents an app.
type App struct {
	cfg    appconfig.Config
	logger *zap.Logger

	session  *gemini.Session
	source   *screen.Source
	pipeline *capture.Pipeline
	frames   *streamer.Streamer
	debug    *http.Server
}

// New executes the new function.
func New(configPath string) (*App, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load watcher config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watcher config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("watcher config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("model", cfg.Model),
	)
	logger.Debug("effective config\n" + cfg.Dump())

	return &App{cfg: cfg, logger: logger}, nil
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run connects the session, starts the capture pipeline and both loops, and
// blocks until the context ends or a loop fails. Shutdown is graceful: the
// session close frame is sent and the capture process reaped.
func (a *App) Run(ctx context.Context) error {
	session, err := a.connect(ctx)
	if err != nil {
		return err
	}
	a.session = session
	metrics.RecordSessionOpened()

	a.source = screen.New(screen.Options{
		FFmpegPath: a.cfg.Capture.FFmpegPath,
		Display:    a.cfg.Capture.Display,
		Width:      a.cfg.Capture.Width,
		Height:     a.cfg.Capture.Height,
		FrameRate:  a.cfg.Capture.FrameRate,
	}, a.logger)

	pipeline, err := capture.Start(a.source, a.logger)
	if err != nil {
		_ = session.Close()
		return err
	}
	a.pipeline = pipeline
	metrics.RegisterCaptureStats(pipeline.Stats)

	a.frames = streamer.New(pipeline, session.Sender(), streamer.Options{
		Prompt:      a.cfg.Prompt,
		JPEGQuality: a.cfg.JPEGQuality,
		MaxFrames:   a.cfg.MaxFrames,
	}, a.logger)
	receiver := streamer.NewReceiver(session, session.Sender(),
		streamer.NewConsoleSink(os.Stdout), a.logger)

	a.startDebugServer()

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.frames.Run(ctx)
	}()
	go func() {
		errCh <- receiver.Run(ctx)
	}()

	received := 0
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		received++
	}
	a.shutdown()

	// The remaining loops unblock once the session and source are torn down.
	for ; received < cap(errCh); received++ {
		select {
		case err := <-errCh:
			if runErr == nil && err != nil {
				runErr = err
			}
		case <-time.After(shutdownTimeout):
			a.logger.Warn("loop did not stop before shutdown timeout")
			return runErr
		}
	}
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func (a *App) connect(ctx context.Context) (*gemini.Session, error) {
	setup := gemini.NewSetup(a.cfg.Model)
	if a.cfg.SystemInstruction != "" {
		instruction := gemini.SystemContent(a.cfg.SystemInstruction)
		setup.SystemInstruction = &instruction
	}
	setup.GenerationConfig = &gemini.GenerationConfig{
		ResponseModalities: []string{"TEXT"},
	}

	return gemini.Connect(ctx, setup, gemini.ConnectionOptions{
		Endpoint:            a.cfg.Endpoint,
		APIKey:              a.cfg.APIKey,
		AccessToken:         a.cfg.AccessToken,
		HandshakeTimeout:    a.cfg.HandshakeTimeout(),
		SkipMalformedFrames: a.cfg.SkipMalformedFrames,
	}, a.logger)
}

func (a *App) startDebugServer() {
	if a.cfg.DebugAddr == "" {
		return
	}
	router := httpapi.NewRouter(a.status, a.logger)
	a.debug = &http.Server{Addr: a.cfg.DebugAddr, Handler: router}
	go func() {
		a.logger.Info("starting debug server", zap.String("addr", a.cfg.DebugAddr))
		if err := a.debug.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("debug server error", zap.Error(err))
		}
	}()
}

func (a *App) status() httpapi.Status {
	status := httpapi.Status{}
	if a.session != nil {
		status.ClientID = a.session.ClientID()
		status.SessionState = string(a.session.State())
	}
	if a.frames != nil {
		status.FramesSent, status.FramesSkipped = a.frames.Stats()
	}
	if a.pipeline != nil {
		status.CapturePublished, status.CaptureDropped = a.pipeline.Stats()
	}
	return status
}

func (a *App) shutdown() {
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Warn("session close failed", zap.Error(err))
		}
	}
	if a.source != nil {
		if err := a.source.Stop(); err != nil {
			a.logger.Warn("capture stop failed", zap.Error(err))
		}
	}
	if a.debug != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.debug.Shutdown(ctx); err != nil {
			a.logger.Warn("debug server shutdown failed", zap.Error(err))
		}
	}
}
