package mediabridge

import (
	"testing"
	"time"
)

// fakeVolumeControl is an in-memory device handle recording every write.
type fakeVolumeControl struct {
	volume   float32
	muted    bool
	released bool

	setVolumeCalls []float32
	setMuteCalls   []bool
}

func (c *fakeVolumeControl) Volume() (float32, error) { return c.volume, nil }
func (c *fakeVolumeControl) Mute() (bool, error)      { return c.muted, nil }
func (c *fakeVolumeControl) Release()                 { c.released = true }

func (c *fakeVolumeControl) SetVolume(percent float32) error {
	c.setVolumeCalls = append(c.setVolumeCalls, percent)
	return nil
}

func (c *fakeVolumeControl) SetMute(muted bool) error {
	c.setMuteCalls = append(c.setMuteCalls, muted)
	return nil
}

// fakeAudioProvider serves a scripted endpoint list.
type fakeAudioProvider struct {
	endpoints []AudioEndpoint
	defaultID string
	events    chan AudioDeviceEvent
}

func newFakeAudioProvider() *fakeAudioProvider {
	return &fakeAudioProvider{events: make(chan AudioDeviceEvent, 16)}
}

func (p *fakeAudioProvider) Start() error { return nil }

func (p *fakeAudioProvider) Events() <-chan AudioDeviceEvent { return p.events }

func (p *fakeAudioProvider) Endpoints() ([]AudioEndpoint, error) {
	return append([]AudioEndpoint(nil), p.endpoints...), nil
}

func (p *fakeAudioProvider) DefaultEndpointID() (string, error) { return p.defaultID, nil }

func (p *fakeAudioProvider) Release() error { close(p.events); return nil }

// newTestRegistry builds a registry over two fake devices without starting the
// poll loop; tests drive refresh/pollOnce directly.
func newTestRegistry() (*audioDeviceRegistry, *fakeAudioProvider, *fakeVolumeControl, *fakeVolumeControl) {
	speakers := &fakeVolumeControl{volume: 50}
	headphones := &fakeVolumeControl{volume: 30, muted: true}

	provider := newFakeAudioProvider()
	provider.endpoints = []AudioEndpoint{
		{ID: "dev-speakers", Name: "Speakers", Control: speakers},
		{ID: "dev-headphones", Name: "Headphones", Control: headphones},
	}
	provider.defaultID = "dev-speakers"

	registry := newAudioDeviceRegistry(testLogger(), provider)
	registry.refresh()

	return registry, provider, speakers, headphones
}

func expectNoDeviceList(t *testing.T, ch chan []DeviceInfo) {
	t.Helper()

	select {
	case list := <-ch:
		t.Fatalf("unexpected device list emission: %+v", list)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistryRefreshTracksDevices(t *testing.T) {
	registry, _, _, _ := newTestRegistry()

	list := registry.DeviceList()
	if len(list) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(list))
	}

	// Sorted by name: Headphones before Speakers.
	if list[0].ID != "dev-headphones" || list[1].ID != "dev-speakers" {
		t.Errorf("unexpected device order: %+v", list)
	}

	if !list[1].IsDefault || list[0].IsDefault {
		t.Errorf("expected speakers to be the default device: %+v", list)
	}
	if list[1].Volume != 50 || list[0].Volume != 30 {
		t.Errorf("expected initial volumes to be read: %+v", list)
	}
	if !list[0].IsMuted || list[1].IsMuted {
		t.Errorf("expected initial mute state to be read: %+v", list)
	}
}

func TestRegistryRefreshReconcilesTopology(t *testing.T) {
	registry, provider, speakers, headphones := newTestRegistry()

	// Same speakers under a fresh handle, headphones gone, one new device.
	duplicate := &fakeVolumeControl{volume: 50}
	monitor := &fakeVolumeControl{volume: 70}
	provider.endpoints = []AudioEndpoint{
		{ID: "dev-speakers", Name: "Speakers", Control: duplicate},
		{ID: "dev-monitor", Name: "Monitor", Control: monitor},
	}
	provider.defaultID = "dev-monitor"

	registry.refresh()

	list := registry.DeviceList()
	if len(list) != 2 {
		t.Fatalf("expected 2 devices after refresh, got %d", len(list))
	}

	if !duplicate.released {
		t.Error("expected the redundant handle for a known device to be released")
	}
	if speakers.released {
		t.Error("expected the original handle for a known device to be kept")
	}
	if !headphones.released {
		t.Error("expected the removed device's handle to be released")
	}

	volume, muted := registry.DefaultLevels()
	if volume != 70 || muted {
		t.Errorf("expected default levels from the new default device, got %d/%v", volume, muted)
	}
}

func TestRegistrySetVolumeClamps(t *testing.T) {
	registry, _, speakers, _ := newTestRegistry()

	if err := registry.SetVolume(150, ""); err != nil {
		t.Fatalf("unexpected command error: %v", err)
	}
	if err := registry.SetVolume(-10, ""); err != nil {
		t.Fatalf("unexpected command error: %v", err)
	}

	if len(speakers.setVolumeCalls) != 2 {
		t.Fatalf("expected 2 volume writes, got %d", len(speakers.setVolumeCalls))
	}
	if speakers.setVolumeCalls[0] != 100 {
		t.Errorf("expected 150 to clamp to 100, got %v", speakers.setVolumeCalls[0])
	}
	if speakers.setVolumeCalls[1] != 0 {
		t.Errorf("expected -10 to clamp to 0, got %v", speakers.setVolumeCalls[1])
	}
}

func TestRegistryVolumeStepDefaults(t *testing.T) {
	registry, _, speakers, _ := newTestRegistry()

	// Speakers sit at 50; a step of zero falls back to the default of 3.
	if err := registry.VolumeUp(0, ""); err != nil {
		t.Fatalf("unexpected command error: %v", err)
	}
	if err := registry.VolumeDown(-5, ""); err != nil {
		t.Fatalf("unexpected command error: %v", err)
	}
	if err := registry.VolumeUp(10, ""); err != nil {
		t.Fatalf("unexpected command error: %v", err)
	}

	want := []float32{53, 47, 60}
	if len(speakers.setVolumeCalls) != len(want) {
		t.Fatalf("expected %d volume writes, got %d", len(want), len(speakers.setVolumeCalls))
	}
	for i, v := range want {
		if speakers.setVolumeCalls[i] != v {
			t.Errorf("write %d: got %v, want %v", i, speakers.setVolumeCalls[i], v)
		}
	}
}

func TestRegistryVolumeUpClampsAtCeiling(t *testing.T) {
	registry, _, speakers, _ := newTestRegistry()

	// The next poll tick picks up the externally raised volume.
	speakers.volume = 99
	registry.pollOnce()

	if err := registry.VolumeUp(10, ""); err != nil {
		t.Fatalf("unexpected command error: %v", err)
	}

	last := speakers.setVolumeCalls[len(speakers.setVolumeCalls)-1]
	if last != 100 {
		t.Errorf("expected clamped write of 100, got %v", last)
	}
}

func TestRegistryExplicitDeviceTargeting(t *testing.T) {
	registry, _, _, headphones := newTestRegistry()

	if err := registry.SetVolume(40, "dev-headphones"); err != nil {
		t.Fatalf("unexpected command error: %v", err)
	}
	if len(headphones.setVolumeCalls) != 1 || headphones.setVolumeCalls[0] != 40 {
		t.Errorf("expected a single write of 40 to headphones, got %v", headphones.setVolumeCalls)
	}
}

func TestRegistryUnknownDevice(t *testing.T) {
	registry, _, speakers, headphones := newTestRegistry()

	err := registry.SetVolume(40, "dev-missing")
	if err == nil {
		t.Fatal("expected a command error for an unknown device")
	}
	if err.Code != ErrCodeDeviceNotFound {
		t.Errorf("expected %s, got %s", ErrCodeDeviceNotFound, err.Code)
	}

	details, ok := err.Details.(map[string]string)
	if !ok || details["deviceId"] != "dev-missing" {
		t.Errorf("expected details to carry the device id, got %+v", err.Details)
	}

	if len(speakers.setVolumeCalls) != 0 || len(headphones.setVolumeCalls) != 0 {
		t.Error("a failed command must not touch any device")
	}
}

func TestRegistryNoDefaultDevice(t *testing.T) {
	provider := newFakeAudioProvider()
	registry := newAudioDeviceRegistry(testLogger(), provider)
	registry.refresh()

	err := registry.ToggleMute("")
	if err == nil {
		t.Fatal("expected a command error with no devices present")
	}
	if err.Code != ErrCodeNoDefaultDevice {
		t.Errorf("expected %s, got %s", ErrCodeNoDefaultDevice, err.Code)
	}

	if volume, muted := registry.DefaultLevels(); volume != 0 || muted {
		t.Errorf("expected zero default levels, got %d/%v", volume, muted)
	}
}

func TestRegistryToggleAndSetMute(t *testing.T) {
	registry, _, speakers, _ := newTestRegistry()

	if err := registry.ToggleMute(""); err != nil {
		t.Fatalf("unexpected command error: %v", err)
	}
	if len(speakers.setMuteCalls) != 1 || speakers.setMuteCalls[0] != true {
		t.Errorf("expected toggle from unmuted to write true, got %v", speakers.setMuteCalls)
	}

	if err := registry.SetMute(false, ""); err != nil {
		t.Fatalf("unexpected command error: %v", err)
	}
	if speakers.setMuteCalls[len(speakers.setMuteCalls)-1] != false {
		t.Errorf("expected explicit unmute, got %v", speakers.setMuteCalls)
	}
}

func TestRegistryPollCoalescesChanges(t *testing.T) {
	registry, _, speakers, headphones := newTestRegistry()

	lists := registry.SubscribeToDeviceLists()

	// Both devices move between ticks; one tick, one emission.
	speakers.volume = 75
	headphones.muted = false
	registry.pollOnce()

	select {
	case list := <-lists:
		for _, device := range list {
			switch device.ID {
			case "dev-speakers":
				if device.Volume != 75 {
					t.Errorf("expected speakers at 75, got %d", device.Volume)
				}
			case "dev-headphones":
				if device.IsMuted {
					t.Error("expected headphones to be unmuted")
				}
			}
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for device list emission")
	}

	// Nothing changed since; the next tick stays silent.
	registry.pollOnce()
	expectNoDeviceList(t, lists)
}

func TestRegistryPollIgnoresJitter(t *testing.T) {
	registry, _, speakers, _ := newTestRegistry()

	lists := registry.SubscribeToDeviceLists()

	speakers.volume = 50.3
	registry.pollOnce()
	expectNoDeviceList(t, lists)
}
