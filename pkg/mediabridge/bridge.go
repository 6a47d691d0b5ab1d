// Package mediabridge implements a background bridge process that watches a
// single target media application's playback session and the host's audio
// mixer, republishing both as a deduplicated line-oriented JSON event stream
// to a parent process while accepting control commands back.
package mediabridge

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mediactl/mediabridge/pkg/mediabridge/util"
)

// Bridge manages the main application components.
type Bridge struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	config   *CanonicalConfig

	thumbnails *thumbnailCache
	tracker    *mediaSessionTracker
	registry   *audioDeviceRegistry
	dispatcher *stateDispatcher
	transport  Transport

	audioInitErr error

	stopChannel chan bool
	version     string
	verbose     bool
}

// NewBridge creates a new Bridge instance. Providers and components are
// wired during Initialize, after configuration has been loaded.
func NewBridge(logger *zap.SugaredLogger, verbose bool) (*Bridge, error) {
	logger = logger.Named("bridge")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create notifier", "error", err)
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create configuration", "error", err)
		return nil, fmt.Errorf("failed to create configuration: %w", err)
	}

	b := &Bridge{
		logger:      logger,
		notifier:    notifier,
		config:      config,
		stopChannel: make(chan bool, 1),
		verbose:     verbose,
	}

	logger.Debug("Bridge instance created successfully")
	return b, nil
}

// SetThumbnailSizeOverride forces the thumbnail pixel size from a flag.
func (b *Bridge) SetThumbnailSizeOverride(size int) {
	b.config.Override(configKeyThumbnailSize, size)
}

// SetThumbnailQualityOverride forces the JPEG quality from a flag.
func (b *Bridge) SetThumbnailQualityOverride(quality int) {
	b.config.Override(configKeyThumbnailQuality, quality)
}

// Initialize loads configuration, wires all components and starts running.
func (b *Bridge) Initialize() error {
	defer b.recoverFromPanic()

	b.logger.Debug("Initializing bridge")

	if err := b.config.Load(); err != nil {
		b.logger.Errorw("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	b.thumbnails = newThumbnailCache(b.logger, b.config.Thumbnail.Size, b.config.Thumbnail.Quality)

	// A broken audio subsystem degrades to an empty device set; it is
	// reported once after the dispatcher starts, never fatal.
	var audioProvider AudioProvider
	if provider, err := newAudioProvider(b.logger); err != nil {
		b.logger.Warnw("Failed to initialize audio provider", "error", err)
		b.audioInitErr = err
	} else {
		audioProvider = provider
	}

	var mediaProvider MediaSessionProvider
	if provider, err := newMediaSessionProvider(b.logger, b.config.TargetAppIDs); err != nil {
		b.logger.Warnw("Failed to initialize media session provider, session tracking disabled", "error", err)
	} else {
		mediaProvider = provider
	}

	b.tracker = newMediaSessionTracker(b.logger, mediaProvider, b.thumbnails,
		b.config.TargetAppIDs, b.config.TargetAppName)
	b.registry = newAudioDeviceRegistry(b.logger, audioProvider)

	transport, err := newTransport(b.logger, b.config)
	if err != nil {
		b.logger.Errorw("Failed to initialize transport", "error", err)
		return fmt.Errorf("failed to initialize transport: %w", err)
	}
	b.transport = transport

	b.dispatcher = newStateDispatcher(b.logger, b.tracker, b.registry, transport)

	b.setupInterruptHandler()
	b.run()

	return nil
}

// SetVersion sets the application version for logging.
func (b *Bridge) SetVersion(version string) {
	b.version = version
}

// Verbose indicates whether the application runs in verbose mode.
func (b *Bridge) Verbose() bool {
	return b.verbose
}

func (b *Bridge) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		b.logger.Debugw("Interrupt received", "signal", signal)
		b.signalStop()
	}()
}

func (b *Bridge) run() {
	b.logger.Info("Run loop starting")

	configReloads := b.config.SubscribeToChanges()
	go func() {
		for range configReloads {
			// Components capture their settings at wiring time; a reload is
			// surfaced but takes full effect on the next start.
			b.logger.Info("Configuration reloaded, some changes apply on restart")
		}
	}()

	go b.config.WatchConfigFileChanges()

	// Subscriptions happen inside dispatcher.start, so it must precede the
	// state sources or their first emissions are lost.
	b.dispatcher.start()

	if b.audioInitErr != nil {
		b.dispatcher.ReportError(ErrorData{
			Code:    ErrCodeAudioInitFailed,
			Message: "audio subsystem initialization failed: " + b.audioInitErr.Error(),
		})
	}

	if err := b.registry.initialize(); err != nil {
		b.logger.Warnw("Audio device registry degraded", "error", err)
		b.dispatcher.ReportError(ErrorData{
			Code:    ErrCodeAudioInitFailed,
			Message: "audio subsystem initialization failed: " + err.Error(),
		})
	}

	if err := b.tracker.initialize(); err != nil {
		b.logger.Warnw("Media session tracking unavailable", "error", err)
	}

	b.logger.Info("Ready, waiting for commands")

	select {
	case <-b.stopChannel:
		b.logger.Debug("Stop signal received")
	case <-b.dispatcher.SubscribeToShutdownRequests():
		b.logger.Debug("Shutdown requested over transport")
	}

	if err := b.stop(); err != nil {
		b.logger.Warnw("Error during shutdown", "error", err)
		os.Exit(1)
	}

	os.Exit(0)
}

func (b *Bridge) signalStop() {
	b.logger.Debug("Sending stop signal")
	b.stopChannel <- true
}

func (b *Bridge) stop() error {
	b.logger.Info("Shutting down bridge")

	b.config.StopWatchingConfigFile()
	b.dispatcher.stop()

	// Closing the transport unblocks the dispatcher's read loop.
	if err := b.transport.Close(); err != nil {
		b.logger.Warnw("Failed to close transport", "error", err)
	}

	b.registry.stop()
	if err := b.registry.release(); err != nil {
		b.logger.Warnw("Failed to release audio device registry", "error", err)
	}

	if err := b.tracker.release(); err != nil {
		b.logger.Warnw("Failed to release media session tracker", "error", err)
	}

	b.thumbnails.Clear()

	b.logger.Sync()
	return nil
}
