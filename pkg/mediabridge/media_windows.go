package mediabridge

import (
	"errors"

	"go.uber.org/zap"
)

// Watching media sessions requires the WinRT transport controls API
// (GlobalSystemMediaTransportControlsSessionManager), which has no usable Go
// binding. The bridge runs in audio-only mode on Windows until one exists.
func newMediaSessionProvider(logger *zap.SugaredLogger, targetAppIDs []string) (MediaSessionProvider, error) {
	logger.Named("media").Warn("Media session watching is not supported on this platform")
	return nil, errors.New("media session provider not supported on windows")
}
