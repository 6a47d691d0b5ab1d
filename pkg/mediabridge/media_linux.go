package mediabridge

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	mprisBusPrefix       = "org.mpris.MediaPlayer2."
	mprisObjectPath      = "/org/mpris/MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"

	mediaEventBuffer  = 16
	dbusSignalBuffer  = 64
	artworkFetchRetry = 2
)

// mprisMediaProvider watches the session bus for an MPRIS player belonging to
// one of the configured target applications and translates its signals into
// MediaSessionEvents.
type mprisMediaProvider struct {
	logger *zap.SugaredLogger
	conn   *dbus.Conn

	// Normalized target tokens derived from the configured app identifiers
	targetTokens []string
	targetAppIDs []string

	signals     chan *dbus.Signal
	events      chan MediaSessionEvent
	stopChannel chan struct{}
	closeOnce   sync.Once

	lock     sync.Mutex
	busName  string // well-known name of the tracked player, "" when absent
	busOwner string // unique connection name of the tracked player
	appID    string // configured identifier the player matched

	artworkClient *retryablehttp.Client
}

func newMediaSessionProvider(logger *zap.SugaredLogger, targetAppIDs []string) (MediaSessionProvider, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		logger.Warnw("Failed to connect to session bus", "error", err)
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	tokens := make([]string, 0, len(targetAppIDs))
	for _, appID := range targetAppIDs {
		if token := normalizeAppToken(appID); token != "" {
			tokens = append(tokens, token)
		}
	}

	artworkClient := retryablehttp.NewClient()
	artworkClient.RetryMax = artworkFetchRetry
	artworkClient.Logger = nil

	p := &mprisMediaProvider{
		logger:        logger.Named("mpris"),
		conn:          conn,
		targetTokens:  tokens,
		targetAppIDs:  targetAppIDs,
		signals:       make(chan *dbus.Signal, dbusSignalBuffer),
		events:        make(chan MediaSessionEvent, mediaEventBuffer),
		stopChannel:   make(chan struct{}),
		artworkClient: artworkClient,
	}

	p.logger.Debug("Created MPRIS media provider instance")

	return p, nil
}

func (p *mprisMediaProvider) Start() error {
	if err := p.conn.AddMatchSignal(
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return fmt.Errorf("match name owner signals: %w", err)
	}

	if err := p.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(mprisObjectPath),
	); err != nil {
		return fmt.Errorf("match property signals: %w", err)
	}

	p.conn.Signal(p.signals)
	go p.watchSignals()

	// A player that is already running produces no NameOwnerChanged, so scan
	// existing names and synthesize its opened event.
	var names []string
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		p.logger.Warnw("Failed to list bus names", "error", err)
		return fmt.Errorf("list bus names: %w", err)
	}

	for _, name := range names {
		if p.matchTarget(name) != "" {
			p.adoptPlayer(name)
			break
		}
	}

	return nil
}

func (p *mprisMediaProvider) Events() <-chan MediaSessionEvent {
	return p.events
}

func (p *mprisMediaProvider) PlaybackStatus() (PlaybackStatus, error) {
	p.lock.Lock()
	busName := p.busName
	p.lock.Unlock()

	if busName == "" {
		return PlaybackClosed, nil
	}

	variant, err := p.conn.Object(busName, mprisObjectPath).
		GetProperty(mprisPlayerInterface + ".PlaybackStatus")
	if err != nil {
		return PlaybackClosed, fmt.Errorf("get playback status: %w", err)
	}

	status, _ := variant.Value().(string)
	return mapPlaybackStatus(status), nil
}

func (p *mprisMediaProvider) SendCommand(command MediaCommand) error {
	p.lock.Lock()
	busName := p.busName
	p.lock.Unlock()

	if busName == "" {
		return fmt.Errorf("no active player")
	}

	method, ok := mprisMethodFor(command)
	if !ok {
		return fmt.Errorf("unsupported media command: %s", command)
	}

	call := p.conn.Object(busName, mprisObjectPath).Call(mprisPlayerInterface+"."+method, 0)
	if call.Err != nil {
		return fmt.Errorf("call %s: %w", method, call.Err)
	}

	return nil
}

func (p *mprisMediaProvider) Release() error {
	p.closeOnce.Do(func() {
		close(p.stopChannel)
		p.conn.RemoveSignal(p.signals)

		if err := p.conn.Close(); err != nil {
			p.logger.Warnw("Failed to close session bus connection", "error", err)
		}

		// The watch goroutine closes the event channel on its way out, so a
		// handler mid-send never races the close.
		p.logger.Debug("Released MPRIS media provider instance")
	})

	return nil
}

// watchSignals drains the dbus signal channel and translates player lifecycle
// and property signals into provider events. It owns the event channel: no
// send can happen after it exits, so it performs the close.
func (p *mprisMediaProvider) watchSignals() {
	defer close(p.events)

	for {
		select {
		case <-p.stopChannel:
			return
		case signal, ok := <-p.signals:
			if !ok {
				return
			}

			switch signal.Name {
			case "org.freedesktop.DBus.NameOwnerChanged":
				p.handleNameOwnerChanged(signal)
			case "org.freedesktop.DBus.Properties.PropertiesChanged":
				p.handlePropertiesChanged(signal)
			}
		}
	}
}

func (p *mprisMediaProvider) handleNameOwnerChanged(signal *dbus.Signal) {
	if len(signal.Body) < 3 {
		return
	}

	name, _ := signal.Body[0].(string)
	newOwner, _ := signal.Body[2].(string)

	if p.matchTarget(name) == "" {
		return
	}

	if newOwner != "" {
		p.adoptPlayer(name)
		return
	}

	p.lock.Lock()
	tracked := p.busName == name
	if tracked {
		p.busName = ""
		p.busOwner = ""
		p.appID = ""
	}
	p.lock.Unlock()

	if tracked {
		p.logger.Infow("Target player left the bus", "busName", name)
		p.events <- MediaSessionEvent{Type: MediaEventSessionClosed}
	}
}

func (p *mprisMediaProvider) handlePropertiesChanged(signal *dbus.Signal) {
	p.lock.Lock()
	owner := p.busOwner
	appID := p.appID
	p.lock.Unlock()

	if owner == "" || signal.Sender != owner || len(signal.Body) < 2 {
		return
	}

	iface, _ := signal.Body[0].(string)
	if iface != mprisPlayerInterface {
		return
	}

	changed, _ := signal.Body[1].(map[string]dbus.Variant)
	if changed == nil {
		return
	}

	if variant, ok := changed["PlaybackStatus"]; ok {
		status, _ := variant.Value().(string)
		p.events <- MediaSessionEvent{
			Type:     MediaEventPlaybackChanged,
			AppID:    appID,
			Playback: mapPlaybackStatus(status),
		}
	}

	if variant, ok := changed["Metadata"]; ok {
		metadata, _ := variant.Value().(map[string]dbus.Variant)
		if metadata != nil {
			props := p.buildProperties(metadata)
			p.events <- MediaSessionEvent{
				Type:       MediaEventPropertiesChanged,
				AppID:      appID,
				Properties: &props,
			}
		}
	}
}

// adoptPlayer starts tracking the given player name, emitting an opened event
// followed by its current metadata and playback status.
func (p *mprisMediaProvider) adoptPlayer(busName string) {
	appID := p.matchTarget(busName)

	var owner string
	if err := p.conn.BusObject().
		Call("org.freedesktop.DBus.GetNameOwner", 0, busName).
		Store(&owner); err != nil {
		p.logger.Warnw("Failed to resolve player bus owner", "busName", busName, "error", err)
		return
	}

	p.lock.Lock()
	p.busName = busName
	p.busOwner = owner
	p.appID = appID
	p.lock.Unlock()

	p.logger.Infow("Tracking target player", "busName", busName, "appID", appID)

	p.events <- MediaSessionEvent{Type: MediaEventSessionOpened, AppID: appID}

	player := p.conn.Object(busName, dbus.ObjectPath(mprisObjectPath))

	if variant, err := player.GetProperty(mprisPlayerInterface + ".Metadata"); err == nil {
		if metadata, ok := variant.Value().(map[string]dbus.Variant); ok {
			props := p.buildProperties(metadata)
			p.events <- MediaSessionEvent{
				Type:       MediaEventPropertiesChanged,
				AppID:      appID,
				Properties: &props,
			}
		}
	}

	if variant, err := player.GetProperty(mprisPlayerInterface + ".PlaybackStatus"); err == nil {
		status, _ := variant.Value().(string)
		p.events <- MediaSessionEvent{
			Type:     MediaEventPlaybackChanged,
			AppID:    appID,
			Playback: mapPlaybackStatus(status),
		}
	}
}

// buildProperties extracts the metadata fields the bridge cares about from an
// MPRIS metadata map.
func (p *mprisMediaProvider) buildProperties(metadata map[string]dbus.Variant) MediaProperties {
	props := MediaProperties{}

	if variant, ok := metadata["xesam:title"]; ok {
		props.Title, _ = variant.Value().(string)
	}

	if variant, ok := metadata["xesam:artist"]; ok {
		if artists, ok := variant.Value().([]string); ok {
			props.Artist = strings.Join(artists, ", ")
		}
	}

	if variant, ok := metadata["xesam:album"]; ok {
		props.Album, _ = variant.Value().(string)
	}

	if variant, ok := metadata["mpris:artUrl"]; ok {
		if artURL, ok := variant.Value().(string); ok && artURL != "" {
			props.Artwork = &urlArtworkSource{
				url:    artURL,
				client: p.artworkClient,
			}
		}
	}

	return props
}

// matchTarget returns the configured app identifier the given bus name maps
// to, or "" when it is not a target player.
func (p *mprisMediaProvider) matchTarget(busName string) string {
	if !strings.HasPrefix(busName, mprisBusPrefix) {
		return ""
	}

	suffix := normalizeAppToken(strings.TrimPrefix(busName, mprisBusPrefix))

	for i, token := range p.targetTokens {
		if strings.Contains(suffix, token) || strings.Contains(token, suffix) {
			return p.targetAppIDs[i]
		}
	}

	return ""
}

// normalizeAppToken lowercases an application identifier and strips its
// extension and separators, so "Yandex Music.exe" and
// "org.mpris.MediaPlayer2.yandex-music" compare equal.
func normalizeAppToken(appID string) string {
	token := strings.ToLower(appID)
	token = strings.TrimSuffix(token, ".exe")

	var b strings.Builder
	for _, r := range token {
		switch r {
		case ' ', '-', '_', '.':
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

func mapPlaybackStatus(status string) PlaybackStatus {
	switch status {
	case "Playing":
		return PlaybackPlaying
	case "Paused":
		return PlaybackPaused
	case "Stopped":
		return PlaybackStopped
	}

	return PlaybackChanging
}

func mprisMethodFor(command MediaCommand) (string, bool) {
	switch command {
	case MediaCommandPlay:
		return "Play", true
	case MediaCommandPause:
		return "Pause", true
	case MediaCommandToggle:
		return "PlayPause", true
	case MediaCommandNext:
		return "Next", true
	case MediaCommandPrevious:
		return "Previous", true
	}

	return "", false
}

// urlArtworkSource resolves an MPRIS artUrl. Local file URLs open directly;
// remote URLs are fetched with retries.
type urlArtworkSource struct {
	url    string
	client *retryablehttp.Client
}

func (s *urlArtworkSource) Open() (io.ReadCloser, error) {
	parsed, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("parse artwork url: %w", err)
	}

	switch parsed.Scheme {
	case "file":
		file, err := os.Open(parsed.Path)
		if err != nil {
			return nil, fmt.Errorf("open artwork file: %w", err)
		}
		return file, nil

	case "http", "https":
		response, err := s.client.Get(s.url)
		if err != nil {
			return nil, fmt.Errorf("fetch artwork: %w", err)
		}
		if response.StatusCode != 200 {
			response.Body.Close()
			return nil, fmt.Errorf("fetch artwork: status %d", response.StatusCode)
		}
		return response.Body, nil
	}

	return nil, fmt.Errorf("unsupported artwork url scheme: %s", parsed.Scheme)
}
