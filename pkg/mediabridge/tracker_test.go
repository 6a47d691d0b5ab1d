package mediabridge

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeMediaProvider feeds scripted events to the tracker and records the
// commands it receives.
type fakeMediaProvider struct {
	events chan MediaSessionEvent

	lock        sync.Mutex
	commands    []MediaCommand
	failCommand bool
}

func newFakeMediaProvider() *fakeMediaProvider {
	return &fakeMediaProvider{events: make(chan MediaSessionEvent, 16)}
}

func (p *fakeMediaProvider) Start() error { return nil }

func (p *fakeMediaProvider) Events() <-chan MediaSessionEvent { return p.events }

func (p *fakeMediaProvider) Release() error { close(p.events); return nil }

func (p *fakeMediaProvider) PlaybackStatus() (PlaybackStatus, error) {
	return PlaybackStopped, nil
}

func (p *fakeMediaProvider) SendCommand(command MediaCommand) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.failCommand {
		return errors.New("command rejected")
	}
	p.commands = append(p.commands, command)
	return nil
}

func (p *fakeMediaProvider) sentCommands() []MediaCommand {
	p.lock.Lock()
	defer p.lock.Unlock()

	return append([]MediaCommand(nil), p.commands...)
}

func newTestTracker(t *testing.T, provider MediaSessionProvider) (*mediaSessionTracker, chan *SessionSnapshot) {
	t.Helper()

	cache := newThumbnailCache(testLogger(), 64, 85)
	tracker := newMediaSessionTracker(testLogger(), provider, cache,
		[]string{"Yandex Music.exe"}, "Яндекс Музыка")

	snapshots := tracker.SubscribeToSnapshots()
	if err := tracker.initialize(); err != nil {
		t.Fatalf("failed to initialize tracker: %v", err)
	}

	return tracker, snapshots
}

func receiveSnapshot(t *testing.T, ch chan *SessionSnapshot) *SessionSnapshot {
	t.Helper()

	select {
	case snapshot := <-ch:
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func expectNoSnapshot(t *testing.T, ch chan *SessionSnapshot) {
	t.Helper()

	select {
	case snapshot := <-ch:
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	case <-time.After(100 * time.Millisecond):
	}
}

func propertiesEvent(title, artist, album string, artwork ArtworkSource) MediaSessionEvent {
	return MediaSessionEvent{
		Type: MediaEventPropertiesChanged,
		Properties: &MediaProperties{
			Title:   title,
			Artist:  artist,
			Album:   album,
			Artwork: artwork,
		},
	}
}

func TestTrackerStaysSilentUntilFirstValidTitle(t *testing.T) {
	provider := newFakeMediaProvider()
	_, snapshots := newTestTracker(t, provider)

	provider.events <- MediaSessionEvent{Type: MediaEventSessionOpened, AppID: "Yandex Music.exe"}
	provider.events <- MediaSessionEvent{Type: MediaEventPlaybackChanged, Playback: PlaybackPlaying}
	provider.events <- propertiesEvent("", "", "", nil)
	expectNoSnapshot(t, snapshots)

	provider.events <- propertiesEvent("Song", "Artist", "Album", nil)
	snapshot := receiveSnapshot(t, snapshots)

	if snapshot == nil {
		t.Fatal("expected a snapshot, got absence")
	}
	if snapshot.Title != "Song" || snapshot.Artist != "Artist" || snapshot.Album != "Album" {
		t.Errorf("unexpected metadata: %+v", snapshot)
	}
	if snapshot.PlaybackStatus != PlaybackPlaying {
		t.Errorf("expected playback state from before the title, got %s", snapshot.PlaybackStatus)
	}
	if snapshot.AppID != "Yandex Music.exe" {
		t.Errorf("unexpected app id: %s", snapshot.AppID)
	}
	if snapshot.ID == "" {
		t.Error("expected a non-empty session id")
	}
}

func TestTrackerSuppressesDuplicateState(t *testing.T) {
	provider := newFakeMediaProvider()
	_, snapshots := newTestTracker(t, provider)

	provider.events <- MediaSessionEvent{Type: MediaEventSessionOpened}
	provider.events <- propertiesEvent("Song", "Artist", "Album", nil)
	receiveSnapshot(t, snapshots)

	// Same properties again: nothing observable changed.
	provider.events <- propertiesEvent("Song", "Artist", "Album", nil)
	expectNoSnapshot(t, snapshots)

	// A playback flip is a real change.
	provider.events <- MediaSessionEvent{Type: MediaEventPlaybackChanged, Playback: PlaybackPaused}
	snapshot := receiveSnapshot(t, snapshots)
	if snapshot.PlaybackStatus != PlaybackPaused {
		t.Errorf("expected paused snapshot, got %s", snapshot.PlaybackStatus)
	}
}

func TestTrackerEmitsAbsenceOnClose(t *testing.T) {
	provider := newFakeMediaProvider()
	_, snapshots := newTestTracker(t, provider)

	provider.events <- MediaSessionEvent{Type: MediaEventSessionOpened}
	provider.events <- propertiesEvent("Song", "Artist", "Album", nil)
	receiveSnapshot(t, snapshots)

	provider.events <- MediaSessionEvent{Type: MediaEventSessionClosed}
	if snapshot := receiveSnapshot(t, snapshots); snapshot != nil {
		t.Errorf("expected absence emission, got %+v", snapshot)
	}
}

func TestTrackerSessionIDChangesPerInstance(t *testing.T) {
	provider := newFakeMediaProvider()
	_, snapshots := newTestTracker(t, provider)

	provider.events <- MediaSessionEvent{Type: MediaEventSessionOpened}
	provider.events <- propertiesEvent("Song", "Artist", "Album", nil)
	first := receiveSnapshot(t, snapshots)

	provider.events <- MediaSessionEvent{Type: MediaEventSessionClosed}
	receiveSnapshot(t, snapshots)

	provider.events <- MediaSessionEvent{Type: MediaEventSessionOpened}
	provider.events <- propertiesEvent("Song", "Artist", "Album", nil)
	second := receiveSnapshot(t, snapshots)

	if first.ID == second.ID {
		t.Error("expected a fresh session id after reopen")
	}
}

func TestTrackerResolvesArtworkInSecondPhase(t *testing.T) {
	provider := newFakeMediaProvider()
	_, snapshots := newTestTracker(t, provider)

	source := &fakeArtworkSource{data: encodeTestImage(t, 100, 100)}

	provider.events <- MediaSessionEvent{Type: MediaEventSessionOpened}
	provider.events <- propertiesEvent("Song", "Artist", "Album", source)

	first := receiveSnapshot(t, snapshots)
	if first.Artwork != nil {
		t.Error("expected the first snapshot to carry no artwork yet")
	}

	second := receiveSnapshot(t, snapshots)
	if second.Artwork == nil {
		t.Fatal("expected the follow-up snapshot to carry artwork")
	}
	if second.Title != first.Title || second.PlaybackStatus != first.PlaybackStatus {
		t.Error("artwork resolution must not alter other fields")
	}
}

func TestTrackerDiscardsStaleArtwork(t *testing.T) {
	provider := newFakeMediaProvider()
	_, snapshots := newTestTracker(t, provider)

	gate := make(chan struct{})
	slow := &fakeArtworkSource{data: encodeTestImage(t, 100, 100), gate: gate}

	provider.events <- MediaSessionEvent{Type: MediaEventSessionOpened}
	provider.events <- propertiesEvent("Song", "Artist", "Album", slow)
	receiveSnapshot(t, snapshots)

	// The track changes while the decode is still in flight.
	provider.events <- propertiesEvent("Other Song", "Other Artist", "Other Album", nil)
	receiveSnapshot(t, snapshots)

	close(gate)

	// The late result belongs to the previous track and must not surface.
	expectNoSnapshot(t, snapshots)
}

func TestTrackerSendCommand(t *testing.T) {
	provider := newFakeMediaProvider()
	tracker, snapshots := newTestTracker(t, provider)

	if tracker.SendCommand("play") {
		t.Error("expected command to fail with no active session")
	}

	provider.events <- MediaSessionEvent{Type: MediaEventSessionOpened}
	provider.events <- propertiesEvent("Song", "Artist", "Album", nil)
	receiveSnapshot(t, snapshots)

	cases := map[string]MediaCommand{
		"play":      MediaCommandPlay,
		"PAUSE":     MediaCommandPause,
		"playpause": MediaCommandToggle,
		"toggle":    MediaCommandToggle,
		"nexttrack": MediaCommandNext,
		"prev":      MediaCommandPrevious,
	}

	for raw, want := range cases {
		if !tracker.SendCommand(raw) {
			t.Errorf("expected command %q to succeed", raw)
		}
		sent := provider.sentCommands()
		if got := sent[len(sent)-1]; got != want {
			t.Errorf("command %q: sent %q, want %q", raw, got, want)
		}
	}

	if tracker.SendCommand("warp") {
		t.Error("expected unrecognized command to fail")
	}

	provider.failCommand = true
	if tracker.SendCommand("play") {
		t.Error("expected provider failure to surface as false")
	}
}
