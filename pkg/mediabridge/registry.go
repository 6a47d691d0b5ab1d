package mediabridge

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// defaultVolumeStep is applied when a volume_up/volume_down command
	// carries no step of its own.
	defaultVolumeStep = 3

	// devicePollInterval is the fixed cadence of the volume/mute poll loop.
	devicePollInterval = 200 * time.Millisecond

	// volumeChangeThreshold filters sub-percent jitter from the poll; a
	// device counts as changed only past this delta (or on a mute flip).
	volumeChangeThreshold = 0.5
)

// deviceEntry is the registry's record of one live output device. Volume and
// mute are last-known values owned by the poll loop; commands write through
// to the platform and let the next tick observe the result.
type deviceEntry struct {
	id        string
	name      string
	isDefault bool
	volume    float32
	muted     bool
	control   VolumeControl
}

// audioDeviceRegistry tracks the live set of output devices, the default
// device and per-device volume/mute, and executes volume commands. A nil
// provider leaves the registry in degraded mode with an empty device set.
type audioDeviceRegistry struct {
	logger   *zap.SugaredLogger
	provider AudioProvider

	lock      sync.Mutex
	devices   map[string]*deviceEntry
	defaultID string

	consumersLock       sync.Mutex
	deviceListConsumers []chan []DeviceInfo

	stopChannel chan struct{}
}

func newAudioDeviceRegistry(logger *zap.SugaredLogger, provider AudioProvider) *audioDeviceRegistry {
	logger = logger.Named("devices")

	r := &audioDeviceRegistry{
		logger:      logger,
		provider:    provider,
		devices:     make(map[string]*deviceEntry),
		stopChannel: make(chan struct{}),
	}

	logger.Debug("Created audio device registry instance")

	return r
}

// SubscribeToDeviceLists returns a channel that receives the full device list
// on every detected change. Subscribe before initialize.
func (r *audioDeviceRegistry) SubscribeToDeviceLists() chan []DeviceInfo {
	ch := make(chan []DeviceInfo, 16)

	r.consumersLock.Lock()
	r.deviceListConsumers = append(r.deviceListConsumers, ch)
	r.consumersLock.Unlock()

	return ch
}

func (r *audioDeviceRegistry) initialize() error {
	if r.provider == nil {
		r.logger.Warn("No audio provider available, running with an empty device set")
		return nil
	}

	if err := r.provider.Start(); err != nil {
		r.logger.Warnw("Failed to start audio provider", "error", err)
		return fmt.Errorf("start audio provider: %w", err)
	}

	r.refresh()

	go r.consumeProviderEvents()
	go r.pollLoop()

	return nil
}

func (r *audioDeviceRegistry) stop() {
	close(r.stopChannel)
}

func (r *audioDeviceRegistry) release() error {
	r.lock.Lock()
	for id, entry := range r.devices {
		entry.control.Release()
		delete(r.devices, id)
	}
	r.lock.Unlock()

	if r.provider == nil {
		return nil
	}

	if err := r.provider.Release(); err != nil {
		r.logger.Warnw("Failed to release audio provider", "error", err)
		return fmt.Errorf("release audio provider: %w", err)
	}

	return nil
}

// consumeProviderEvents answers every device-added/removed/default-changed
// notification with a full re-enumeration.
func (r *audioDeviceRegistry) consumeProviderEvents() {
	for event := range r.provider.Events() {
		r.logger.Debugw("Audio device notification", "type", event.Type, "deviceID", event.DeviceID)
		r.refresh()
	}
}

// refresh reconciles the device map against a fresh enumeration and always
// emits the full device list; downstream consumers want complete state, not
// patches.
func (r *audioDeviceRegistry) refresh() {
	endpoints, err := r.provider.Endpoints()
	if err != nil {
		r.logger.Warnw("Failed to enumerate audio endpoints", "error", err)
		return
	}

	defaultID, err := r.provider.DefaultEndpointID()
	if err != nil {
		r.logger.Warnw("Failed to query default audio endpoint", "error", err)
		defaultID = ""
	}

	r.lock.Lock()

	seen := make(map[string]bool, len(endpoints))
	for _, endpoint := range endpoints {
		seen[endpoint.ID] = true

		if existing, ok := r.devices[endpoint.ID]; ok {
			// Known device: keep the original handle, refresh the name.
			existing.name = endpoint.Name
			endpoint.Control.Release()
			continue
		}

		entry := &deviceEntry{
			id:      endpoint.ID,
			name:    endpoint.Name,
			control: endpoint.Control,
		}

		if volume, err := endpoint.Control.Volume(); err == nil {
			entry.volume = volume
		} else {
			r.logger.Warnw("Failed to read initial device volume", "deviceID", endpoint.ID, "error", err)
		}
		if muted, err := endpoint.Control.Mute(); err == nil {
			entry.muted = muted
		} else {
			r.logger.Warnw("Failed to read initial device mute", "deviceID", endpoint.ID, "error", err)
		}

		r.devices[endpoint.ID] = entry
		r.logger.Infow("Tracking audio device", "deviceID", endpoint.ID, "name", endpoint.Name)
	}

	for id, entry := range r.devices {
		if !seen[id] {
			entry.control.Release()
			delete(r.devices, id)
			r.logger.Infow("Dropped audio device", "deviceID", id, "name", entry.name)
		}
	}

	r.defaultID = defaultID
	for id, entry := range r.devices {
		entry.isDefault = id == defaultID
	}

	list := r.deviceListLocked()
	r.lock.Unlock()

	r.notifyConsumers(list)
}

// pollLoop re-reads volume/mute on a fixed interval, independent of device
// notifications.
func (r *audioDeviceRegistry) pollLoop() {
	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChannel:
			r.logger.Debug("Stopping device poll loop")
			return
		case <-ticker.C:
			r.pollOnce()
		}
	}
}

// pollOnce reads every device's current levels, coalescing all changes found
// in one tick into a single full-list emission. A tick with no changes emits
// nothing. Read failures leave the last-known values untouched; they
// self-correct on a later tick.
func (r *audioDeviceRegistry) pollOnce() {
	r.lock.Lock()

	changed := false
	for _, entry := range r.devices {
		volume, err := entry.control.Volume()
		if err != nil {
			continue
		}
		muted, err := entry.control.Mute()
		if err != nil {
			continue
		}

		if math.Abs(float64(volume-entry.volume)) > volumeChangeThreshold || muted != entry.muted {
			entry.volume = volume
			entry.muted = muted
			changed = true
		}
	}

	var list []DeviceInfo
	if changed {
		list = r.deviceListLocked()
	}
	r.lock.Unlock()

	if changed {
		r.notifyConsumers(list)
	}
}

// DeviceList returns the current full device list.
func (r *audioDeviceRegistry) DeviceList() []DeviceInfo {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.deviceListLocked()
}

// DefaultLevels returns the last-known volume percent and mute flag of the
// default device. Used by the dispatcher to enrich session envelopes without
// crossing lock regions.
func (r *audioDeviceRegistry) DefaultLevels() (int, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	entry, ok := r.devices[r.defaultID]
	if !ok {
		return 0, false
	}

	return roundPercent(entry.volume), entry.muted
}

// VolumeUp raises the target device's volume by step percent (default 3).
func (r *audioDeviceRegistry) VolumeUp(step int, deviceID string) *CommandError {
	if step <= 0 {
		step = defaultVolumeStep
	}
	return r.adjustVolume(step, deviceID)
}

// VolumeDown lowers the target device's volume by step percent (default 3).
func (r *audioDeviceRegistry) VolumeDown(step int, deviceID string) *CommandError {
	if step <= 0 {
		step = defaultVolumeStep
	}
	return r.adjustVolume(-step, deviceID)
}

func (r *audioDeviceRegistry) adjustVolume(delta int, deviceID string) *CommandError {
	r.lock.Lock()
	defer r.lock.Unlock()

	entry, cmdErr := r.resolveTargetLocked(deviceID)
	if cmdErr != nil {
		return cmdErr
	}

	target := clampPercent(entry.volume + float32(delta))
	if err := entry.control.SetVolume(target); err != nil {
		r.logger.Warnw("Failed to adjust device volume", "deviceID", entry.id, "error", err)
		return newCommandError(ErrCodeActionFailed, "failed to adjust volume on device '%s'", entry.id)
	}

	r.logger.Debugw("Adjusted device volume", "deviceID", entry.id,
		"from", roundPercent(entry.volume), "to", roundPercent(target))

	// Last-known values stay untouched; the next poll tick observes and
	// publishes the result.
	return nil
}

// SetVolume sets the target device's volume to percent, clamped to [0,100].
func (r *audioDeviceRegistry) SetVolume(percent int, deviceID string) *CommandError {
	r.lock.Lock()
	defer r.lock.Unlock()

	entry, cmdErr := r.resolveTargetLocked(deviceID)
	if cmdErr != nil {
		return cmdErr
	}

	target := clampPercent(float32(percent))
	if err := entry.control.SetVolume(target); err != nil {
		r.logger.Warnw("Failed to set device volume", "deviceID", entry.id, "error", err)
		return newCommandError(ErrCodeActionFailed, "failed to set volume on device '%s'", entry.id)
	}

	r.logger.Debugw("Set device volume", "deviceID", entry.id, "to", roundPercent(target))

	return nil
}

// ToggleMute flips the target device's mute flag.
func (r *audioDeviceRegistry) ToggleMute(deviceID string) *CommandError {
	r.lock.Lock()
	defer r.lock.Unlock()

	entry, cmdErr := r.resolveTargetLocked(deviceID)
	if cmdErr != nil {
		return cmdErr
	}

	muted, err := entry.control.Mute()
	if err != nil {
		r.logger.Warnw("Failed to read device mute", "deviceID", entry.id, "error", err)
		return newCommandError(ErrCodeActionFailed, "failed to read mute on device '%s'", entry.id)
	}

	if err := entry.control.SetMute(!muted); err != nil {
		r.logger.Warnw("Failed to toggle device mute", "deviceID", entry.id, "error", err)
		return newCommandError(ErrCodeActionFailed, "failed to toggle mute on device '%s'", entry.id)
	}

	r.logger.Debugw("Toggled device mute", "deviceID", entry.id, "muted", !muted)

	return nil
}

// SetMute sets the target device's mute flag.
func (r *audioDeviceRegistry) SetMute(muted bool, deviceID string) *CommandError {
	r.lock.Lock()
	defer r.lock.Unlock()

	entry, cmdErr := r.resolveTargetLocked(deviceID)
	if cmdErr != nil {
		return cmdErr
	}

	if err := entry.control.SetMute(muted); err != nil {
		r.logger.Warnw("Failed to set device mute", "deviceID", entry.id, "error", err)
		return newCommandError(ErrCodeActionFailed, "failed to set mute on device '%s'", entry.id)
	}

	r.logger.Debugw("Set device mute", "deviceID", entry.id, "muted", muted)

	return nil
}

// resolveTargetLocked picks the command target: the explicitly addressed
// device, else the current default. Resolution failure yields a structured
// error and zero state mutation. Caller holds the registry lock.
func (r *audioDeviceRegistry) resolveTargetLocked(deviceID string) (*deviceEntry, *CommandError) {
	if deviceID != "" {
		entry, ok := r.devices[deviceID]
		if !ok {
			err := newCommandError(ErrCodeDeviceNotFound, "audio device '%s' not found", deviceID)
			err.Details = map[string]string{"deviceId": deviceID}
			return nil, err
		}
		return entry, nil
	}

	entry, ok := r.devices[r.defaultID]
	if !ok {
		return nil, newCommandError(ErrCodeNoDefaultDevice, "no default audio device available")
	}

	return entry, nil
}

// deviceListLocked snapshots the device map into an emission-ready list,
// sorted by name for stable output. Caller holds the registry lock.
func (r *audioDeviceRegistry) deviceListLocked() []DeviceInfo {
	list := make([]DeviceInfo, 0, len(r.devices))
	for _, entry := range r.devices {
		list = append(list, DeviceInfo{
			ID:        entry.id,
			Name:      entry.name,
			IsDefault: entry.isDefault,
			IsMuted:   entry.muted,
			Volume:    roundPercent(entry.volume),
		})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})

	return list
}

func (r *audioDeviceRegistry) notifyConsumers(list []DeviceInfo) {
	r.consumersLock.Lock()
	consumers := r.deviceListConsumers
	r.consumersLock.Unlock()

	for _, ch := range consumers {
		ch <- list
	}
}

func clampPercent(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func roundPercent(v float32) int {
	return int(math.Round(float64(v)))
}
