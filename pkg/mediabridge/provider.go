package mediabridge

import "io"

// PlaybackStatus describes the playback state of the tracked media session.
type PlaybackStatus string

const (
	PlaybackStopped  PlaybackStatus = "Stopped"
	PlaybackPlaying  PlaybackStatus = "Playing"
	PlaybackPaused   PlaybackStatus = "Paused"
	PlaybackChanging PlaybackStatus = "Changing"
	PlaybackClosed   PlaybackStatus = "Closed"
)

// MediaCommand is a transport control action issued to the tracked session.
type MediaCommand string

const (
	MediaCommandPlay     MediaCommand = "play"
	MediaCommandPause    MediaCommand = "pause"
	MediaCommandToggle   MediaCommand = "toggle"
	MediaCommandNext     MediaCommand = "next"
	MediaCommandPrevious MediaCommand = "previous"
)

// MediaEventType discriminates events arriving from a MediaSessionProvider.
type MediaEventType int

const (
	// MediaEventSessionOpened fires when the target app acquires a media session.
	MediaEventSessionOpened MediaEventType = iota
	// MediaEventSessionClosed fires when the target app's session goes away.
	MediaEventSessionClosed
	// MediaEventPlaybackChanged fires when only the playback status changed.
	MediaEventPlaybackChanged
	// MediaEventPropertiesChanged fires when track metadata changed.
	MediaEventPropertiesChanged
)

// MediaProperties is one set of track metadata reported by the provider.
type MediaProperties struct {
	Title   string
	Artist  string
	Album   string
	Artwork ArtworkSource
}

// MediaSessionEvent is a single notification from the media session provider,
// already filtered down to the target application.
type MediaSessionEvent struct {
	Type       MediaEventType
	AppID      string
	Playback   PlaybackStatus
	Properties *MediaProperties
}

// ArtworkSource is an opaque reference to artwork image data. Open may block
// (e.g. an HTTP fetch for remote art), so callers decode off the event path.
type ArtworkSource interface {
	Open() (io.ReadCloser, error)
}

// MediaSessionProvider exposes the platform's media session registry, scoped
// to a fixed set of application identifiers. Implementations translate
// provider callbacks into channel sends and must never block in callback
// frames beyond that.
type MediaSessionProvider interface {
	// Start begins watching for session activity. Events for a session that
	// already exists at start time are synthesized so consumers always see an
	// opened event first.
	Start() error

	// Events returns the channel session notifications arrive on. The channel
	// is closed on Release.
	Events() <-chan MediaSessionEvent

	// PlaybackStatus reads the current playback status of the tracked session.
	PlaybackStatus() (PlaybackStatus, error)

	// SendCommand issues a transport control action to the tracked session.
	SendCommand(command MediaCommand) error

	Release() error
}

// AudioEventType discriminates device topology notifications.
type AudioEventType int

const (
	AudioEventDeviceAdded AudioEventType = iota
	AudioEventDeviceRemoved
	AudioEventDefaultChanged
)

// AudioDeviceEvent is a single device topology notification. The registry
// responds to every event type with a full re-enumeration, so the device ID
// is advisory.
type AudioDeviceEvent struct {
	Type     AudioEventType
	DeviceID string
}

// VolumeControl is the per-device handle for reading and writing the master
// volume and mute state of one output endpoint. Volume is in percent [0,100].
type VolumeControl interface {
	Volume() (float32, error)
	SetVolume(percent float32) error
	Mute() (bool, error)
	SetMute(muted bool) error
	Release()
}

// AudioEndpoint is one active output device as reported by enumeration.
// Control ownership passes to the caller, which must Release it.
type AudioEndpoint struct {
	ID      string
	Name    string
	Control VolumeControl
}

// AudioProvider exposes the platform's output device topology.
type AudioProvider interface {
	Start() error

	// Events returns the channel device notifications arrive on. The channel
	// is closed on Release.
	Events() <-chan AudioDeviceEvent

	// Endpoints enumerates all currently active output devices.
	Endpoints() ([]AudioEndpoint, error)

	// DefaultEndpointID returns the ID of the OS default output device.
	DefaultEndpointID() (string, error)

	Release() error
}
