package mediabridge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/mediactl/mediabridge/pkg/mediabridge/util"
)

// SessionSnapshot is the tracker's normalized view of the tracked session,
// emitted verbatim (not as a diff) on every change.
type SessionSnapshot struct {
	ID             string
	AppID          string
	AppName        string
	Title          string
	Artist         string
	Album          string
	PlaybackStatus PlaybackStatus
	Artwork        []byte
	Focused        bool
}

// sessionState is the tracker's mutable state for the one tracked session
// instance. The token is regenerated each time a session opens and ties
// asynchronous artwork results back to their owning instance.
type sessionState struct {
	token    string
	appID    string
	title    string
	artist   string
	album    string
	playback PlaybackStatus
	artwork  []byte
}

// mediaSessionTracker owns the single tracked session's state machine:
// NoSession -> (session opened) -> HasSession -> (session closed) -> NoSession.
type mediaSessionTracker struct {
	logger       *zap.SugaredLogger
	provider     MediaSessionProvider
	thumbnails   *thumbnailCache
	targetAppIDs []string
	appName      string

	lock        sync.Mutex
	current     *sessionState
	lastEmitted *SessionSnapshot

	consumersLock     sync.Mutex
	snapshotConsumers []chan *SessionSnapshot
}

func newMediaSessionTracker(
	logger *zap.SugaredLogger,
	provider MediaSessionProvider,
	thumbnails *thumbnailCache,
	targetAppIDs []string,
	appName string,
) *mediaSessionTracker {
	logger = logger.Named("tracker")

	t := &mediaSessionTracker{
		logger:       logger,
		provider:     provider,
		thumbnails:   thumbnails,
		targetAppIDs: targetAppIDs,
		appName:      appName,
	}

	logger.Debug("Created media session tracker instance")

	return t
}

// SubscribeToSnapshots returns a channel that receives a snapshot copy on
// every accepted change, and nil when the session closes. Subscribe before
// initialize.
func (t *mediaSessionTracker) SubscribeToSnapshots() chan *SessionSnapshot {
	ch := make(chan *SessionSnapshot, 16)

	t.consumersLock.Lock()
	t.snapshotConsumers = append(t.snapshotConsumers, ch)
	t.consumersLock.Unlock()

	return ch
}

func (t *mediaSessionTracker) initialize() error {
	if t.provider == nil {
		t.logger.Warn("No media session provider available, session tracking disabled")
		return nil
	}

	if err := t.provider.Start(); err != nil {
		t.logger.Warnw("Failed to start media session provider", "error", err)
		return fmt.Errorf("start media session provider: %w", err)
	}

	go t.consumeProviderEvents()

	return nil
}

func (t *mediaSessionTracker) release() error {
	if t.provider == nil {
		return nil
	}

	if err := t.provider.Release(); err != nil {
		t.logger.Warnw("Failed to release media session provider", "error", err)
		return fmt.Errorf("release media session provider: %w", err)
	}

	return nil
}

// consumeProviderEvents drains the provider's event channel until it is
// closed by Release.
func (t *mediaSessionTracker) consumeProviderEvents() {
	for event := range t.provider.Events() {
		switch event.Type {
		case MediaEventSessionOpened:
			t.handleSessionOpened(event)
		case MediaEventSessionClosed:
			t.handleSessionClosed()
		case MediaEventPlaybackChanged:
			t.handlePlaybackChanged(event)
		case MediaEventPropertiesChanged:
			t.handlePropertiesChanged(event)
		}
	}
}

func (t *mediaSessionTracker) handleSessionOpened(event MediaSessionEvent) {
	token := newSessionToken()

	t.lock.Lock()
	t.current = &sessionState{
		token:    token,
		appID:    event.AppID,
		playback: PlaybackStopped,
	}
	t.lock.Unlock()

	t.logger.Infow("Target app session opened", "appID", event.AppID, "token", token)

	// No emission yet: a session without a title isn't ready. The first
	// properties event with a non-empty title produces the first snapshot.
}

func (t *mediaSessionTracker) handleSessionClosed() {
	t.lock.Lock()
	if t.current == nil {
		t.lock.Unlock()
		return
	}
	t.current = nil
	t.lock.Unlock()

	t.logger.Info("Target app session closed")

	t.emitAbsence()
}

func (t *mediaSessionTracker) handlePlaybackChanged(event MediaSessionEvent) {
	t.lock.Lock()
	if t.current == nil {
		t.lock.Unlock()
		return
	}

	t.current.playback = event.Playback
	snapshot := t.buildSnapshotLocked()
	t.lock.Unlock()

	// Playback changes before the first valid properties arrive stay silent.
	if snapshot != nil {
		t.emitIfChanged(snapshot)
	}
}

func (t *mediaSessionTracker) handlePropertiesChanged(event MediaSessionEvent) {
	props := event.Properties
	if props == nil || !validTitle(props.Title) {
		// "Not yet ready", not a valid state. No transition, no emission.
		return
	}

	t.lock.Lock()
	if t.current == nil {
		t.lock.Unlock()
		return
	}

	t.current.title = props.Title
	t.current.artist = props.Artist
	t.current.album = props.Album

	// Phase one: attach whatever the cache already holds for this key.
	cached, _ := t.thumbnails.Lookup(props.Artist, props.Album)
	t.current.artwork = cached

	token := t.current.token
	snapshot := t.buildSnapshotLocked()
	t.lock.Unlock()

	t.emitIfChanged(snapshot)

	// Phase two: decode off the event path and re-emit on completion, unless
	// the session has moved on in the meantime.
	if cached == nil && props.Artwork != nil {
		go t.resolveArtwork(token, props.Artist, props.Album, props.Artwork)
	}
}

// resolveArtwork runs the blocking decode and attaches the result if the same
// session instance is still current and still on the same track.
func (t *mediaSessionTracker) resolveArtwork(token, artist, album string, source ArtworkSource) {
	data := t.thumbnails.Get(artist, album, source)
	if data == nil {
		return
	}

	t.lock.Lock()
	if t.current == nil || t.current.token != token ||
		!validTitle(t.current.title) ||
		t.current.artist != artist || t.current.album != album {
		t.lock.Unlock()
		t.logger.Debugw("Discarding stale artwork result", "artist", artist, "album", album)
		return
	}

	t.current.artwork = data
	snapshot := t.buildSnapshotLocked()
	t.lock.Unlock()

	t.emitIfChanged(snapshot)
}

// SendCommand routes a transport control command to the tracked session.
// It reports success to the caller only; any resulting state change arrives
// later through the normal event path.
func (t *mediaSessionTracker) SendCommand(command string) bool {
	media, ok := resolveMediaCommand(command)
	if !ok {
		t.logger.Debugw("Unrecognized media command", "command", command)
		return false
	}

	t.lock.Lock()
	hasSession := t.current != nil
	t.lock.Unlock()

	if !hasSession || t.provider == nil {
		t.logger.Debugw("Media command with no active session", "command", command)
		return false
	}

	if err := t.provider.SendCommand(media); err != nil {
		t.logger.Warnw("Failed to send media command", "command", command, "error", err)
		return false
	}

	return true
}

// buildSnapshotLocked copies the current state into an emission-ready
// snapshot. Returns nil while the session has no valid title. Caller holds
// the session lock.
func (t *mediaSessionTracker) buildSnapshotLocked() *SessionSnapshot {
	if t.current == nil || !validTitle(t.current.title) {
		return nil
	}

	return &SessionSnapshot{
		ID:             t.current.token,
		AppID:          t.current.appID,
		AppName:        t.appName,
		Title:          t.current.title,
		Artist:         t.current.artist,
		Album:          t.current.album,
		PlaybackStatus: t.current.playback,
		Artwork:        t.current.artwork,
		Focused:        t.targetAppFocused(),
	}
}

// emitIfChanged forwards the snapshot to consumers only if at least one of
// title, artist, album, playback status or artwork presence differs from the
// last emitted snapshot.
func (t *mediaSessionTracker) emitIfChanged(snapshot *SessionSnapshot) {
	t.lock.Lock()
	last := t.lastEmitted
	if last != nil &&
		last.Title == snapshot.Title &&
		last.Artist == snapshot.Artist &&
		last.Album == snapshot.Album &&
		last.PlaybackStatus == snapshot.PlaybackStatus &&
		(last.Artwork != nil) == (snapshot.Artwork != nil) {
		t.lock.Unlock()
		return
	}
	t.lastEmitted = snapshot
	t.lock.Unlock()

	t.notifyConsumers(snapshot)
}

// emitAbsence tells consumers the session is gone.
func (t *mediaSessionTracker) emitAbsence() {
	t.lock.Lock()
	t.lastEmitted = nil
	t.lock.Unlock()

	t.notifyConsumers(nil)
}

func (t *mediaSessionTracker) notifyConsumers(snapshot *SessionSnapshot) {
	t.consumersLock.Lock()
	consumers := t.snapshotConsumers
	t.consumersLock.Unlock()

	for _, ch := range consumers {
		ch <- snapshot
	}
}

// targetAppFocused reports whether a target app executable owns the current
// foreground window. Platforms without a lookup treat an open session as
// focused.
func (t *mediaSessionTracker) targetAppFocused() bool {
	names, err := util.GetCurrentWindowProcessNames()
	if err != nil || len(names) == 0 {
		return true
	}

	for i := range names {
		names[i] = strings.ToLower(names[i])
	}

	for _, appID := range t.targetAppIDs {
		if funk.ContainsString(names, strings.ToLower(appID)) {
			return true
		}
	}

	return false
}

func validTitle(title string) bool {
	return strings.TrimSpace(title) != ""
}

// resolveMediaCommand maps a raw command string (and its accepted aliases)
// onto the provider's command set.
func resolveMediaCommand(command string) (MediaCommand, bool) {
	switch strings.ToLower(command) {
	case "play":
		return MediaCommandPlay, true
	case "pause":
		return MediaCommandPause, true
	case "toggle", "playpause":
		return MediaCommandToggle, true
	case "next", "nexttrack":
		return MediaCommandNext, true
	case "previous", "prev", "prevtrack":
		return MediaCommandPrevious, true
	}

	return "", false
}

// newSessionToken generates the opaque per-session-instance identifier.
func newSessionToken() string {
	return fmt.Sprintf("%x", [16]byte(uuid.New()))
}
