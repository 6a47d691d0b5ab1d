package mediabridge

import (
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

func TestNormalizeAppToken(t *testing.T) {
	cases := map[string]string{
		"Yandex Music.exe":  "yandexmusic",
		"Яндекс Музыка.exe": "яндексмузыка",
		"yandex-music":      "yandexmusic",
		"custom_player":     "customplayer",
	}

	for input, want := range cases {
		if got := normalizeAppToken(input); got != want {
			t.Errorf("normalizeAppToken(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMatchTarget(t *testing.T) {
	p := &mprisMediaProvider{
		targetAppIDs: []string{"Yandex Music.exe"},
		targetTokens: []string{normalizeAppToken("Yandex Music.exe")},
	}

	cases := map[string]string{
		"org.mpris.MediaPlayer2.yandex-music":          "Yandex Music.exe",
		"org.mpris.MediaPlayer2.YandexMusic.instance1": "Yandex Music.exe",
		"org.mpris.MediaPlayer2.spotify":               "",
		"org.freedesktop.Notifications":                "",
	}

	for busName, want := range cases {
		if got := p.matchTarget(busName); got != want {
			t.Errorf("matchTarget(%q) = %q, want %q", busName, got, want)
		}
	}
}

func newUnconnectedMprisProvider() *mprisMediaProvider {
	return &mprisMediaProvider{
		logger:      testLogger(),
		signals:     make(chan *dbus.Signal, dbusSignalBuffer),
		events:      make(chan MediaSessionEvent, mediaEventBuffer),
		stopChannel: make(chan struct{}),
	}
}

func expectEventsClosed(t *testing.T, events <-chan MediaSessionEvent) {
	t.Helper()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected the events channel to close without an event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the events channel to close")
	}
}

func TestMprisWatcherClosesEventsOnStop(t *testing.T) {
	p := newUnconnectedMprisProvider()

	go p.watchSignals()
	close(p.stopChannel)

	// The watch goroutine owns the channel; stopping it must close it.
	expectEventsClosed(t, p.events)
}

func TestMprisWatcherClosesEventsWhenSignalsEnd(t *testing.T) {
	p := newUnconnectedMprisProvider()

	go p.watchSignals()

	// The bus connection going away closes the signal channel.
	close(p.signals)

	expectEventsClosed(t, p.events)
}

func TestMprisWatcherIgnoresForeignProperties(t *testing.T) {
	p := newUnconnectedMprisProvider()

	go p.watchSignals()

	// Signals from an untracked sender must not produce events.
	p.signals <- &dbus.Signal{
		Sender: ":1.99",
		Name:   "org.freedesktop.DBus.Properties.PropertiesChanged",
		Body: []interface{}{
			mprisPlayerInterface,
			map[string]dbus.Variant{"PlaybackStatus": dbus.MakeVariant("Playing")},
			[]string{},
		},
	}

	close(p.stopChannel)
	expectEventsClosed(t, p.events)
}

func TestMapPlaybackStatus(t *testing.T) {
	cases := map[string]PlaybackStatus{
		"Playing": PlaybackPlaying,
		"Paused":  PlaybackPaused,
		"Stopped": PlaybackStopped,
		"":        PlaybackChanging,
		"Weird":   PlaybackChanging,
	}

	for input, want := range cases {
		if got := mapPlaybackStatus(input); got != want {
			t.Errorf("mapPlaybackStatus(%q) = %q, want %q", input, got, want)
		}
	}
}
