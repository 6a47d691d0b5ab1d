package mediabridge

import (
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	wca "github.com/moutend/go-wca"
	"go.uber.org/zap"
)

// wcaAudioProvider exposes Windows Core Audio output endpoints through the
// AudioProvider interface.
type wcaAudioProvider struct {
	logger *zap.SugaredLogger

	eventCtx *ole.GUID // Context for volume change notifications

	mmDeviceEnumerator   *wca.IMMDeviceEnumerator
	mmNotificationClient *wca.IMMNotificationClient

	eventsLock   sync.Mutex
	eventsClosed bool
	events       chan AudioDeviceEvent

	// Threshold to filter out rapid default-change notifications
	lastDefaultDeviceChange time.Time
}

const (
	// Unique GUID for the event context
	volumeEventCtxGUID = "{8b3fbb2c-5b40-49f1-8a0e-62b0af2dfb34}"

	minDefaultDeviceChangeThreshold = 100 * time.Millisecond

	audioEventBuffer = 32
)

func newAudioProvider(logger *zap.SugaredLogger) (AudioProvider, error) {
	p := &wcaAudioProvider{
		logger:   logger.Named("wca"),
		eventCtx: ole.NewGUID(volumeEventCtxGUID),
		events:   make(chan AudioDeviceEvent, audioEventBuffer),
	}

	p.logger.Debug("Created WCA audio provider instance")

	return p, nil
}

func (p *wcaAudioProvider) Start() error {
	// Initialize COM for the lifetime of the provider
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// Handle redundant initialization gracefully
		if oleErr, ok := err.(*ole.OleError); ok && oleErr.Code() == 1 {
			p.logger.Warn("CoInitializeEx called redundantly")
		} else {
			p.logger.Warnw("Failed to initialize COM library", "error", err)
			return fmt.Errorf("initialize COM: %w", err)
		}
	}

	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&p.mmDeviceEnumerator,
	); err != nil {
		p.logger.Warnw("Failed to create device enumerator", "error", err)
		return fmt.Errorf("create device enumerator: %w", err)
	}

	if err := p.registerNotificationCallbacks(); err != nil {
		p.logger.Warnw("Failed to register device notification callbacks", "error", err)
		return fmt.Errorf("register device notification callbacks: %w", err)
	}

	return nil
}

func (p *wcaAudioProvider) Events() <-chan AudioDeviceEvent {
	return p.events
}

func (p *wcaAudioProvider) Endpoints() ([]AudioEndpoint, error) {
	var collection *wca.IMMDeviceCollection
	if err := p.mmDeviceEnumerator.EnumAudioEndpoints(wca.ERender, wca.DEVICE_STATE_ACTIVE, &collection); err != nil {
		return nil, fmt.Errorf("enumerate audio endpoints: %w", err)
	}
	defer collection.Release()

	var count uint32
	if err := collection.GetCount(&count); err != nil {
		return nil, fmt.Errorf("get endpoint count: %w", err)
	}

	endpoints := make([]AudioEndpoint, 0, count)

	for i := uint32(0); i < count; i++ {
		var device *wca.IMMDevice
		if err := collection.Item(i, &device); err != nil {
			p.logger.Warnw("Failed to get device from collection", "index", i, "error", err)
			continue
		}

		endpoint, err := p.describeEndpoint(device)
		device.Release()
		if err != nil {
			p.logger.Warnw("Failed to describe audio endpoint", "index", i, "error", err)
			continue
		}

		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}

func (p *wcaAudioProvider) DefaultEndpointID() (string, error) {
	var device *wca.IMMDevice
	if err := p.mmDeviceEnumerator.GetDefaultAudioEndpoint(wca.ERender, wca.EMultimedia, &device); err != nil {
		return "", fmt.Errorf("get default audio endpoint: %w", err)
	}
	defer device.Release()

	var id string
	if err := device.GetId(&id); err != nil {
		return "", fmt.Errorf("get default endpoint id: %w", err)
	}

	return id, nil
}

func (p *wcaAudioProvider) Release() error {
	if p.mmDeviceEnumerator != nil {
		if p.mmNotificationClient != nil {
			if err := p.mmDeviceEnumerator.UnregisterEndpointNotificationCallback(p.mmNotificationClient); err != nil {
				p.logger.Warnw("Failed to unregister notification callbacks", "error", err)
			}
		}
		p.mmDeviceEnumerator.Release()
	}

	ole.CoUninitialize()

	p.eventsLock.Lock()
	if !p.eventsClosed {
		p.eventsClosed = true
		close(p.events)
	}
	p.eventsLock.Unlock()

	p.logger.Debug("Released WCA audio provider instance")
	return nil
}

// describeEndpoint reads the id, friendly name and volume interface of one
// enumerated device.
func (p *wcaAudioProvider) describeEndpoint(device *wca.IMMDevice) (AudioEndpoint, error) {
	var id string
	if err := device.GetId(&id); err != nil {
		return AudioEndpoint{}, fmt.Errorf("get device id: %w", err)
	}

	var propertyStore *wca.IPropertyStore
	if err := device.OpenPropertyStore(wca.STGM_READ, &propertyStore); err != nil {
		return AudioEndpoint{}, fmt.Errorf("open property store: %w", err)
	}

	var pv wca.PROPVARIANT
	name := id
	if err := propertyStore.GetValue(&wca.PKEY_Device_FriendlyName, &pv); err == nil {
		name = pv.String()
	} else {
		p.logger.Warnw("Failed to read device friendly name", "deviceID", id, "error", err)
	}
	propertyStore.Release()

	var endpointVolume *wca.IAudioEndpointVolume
	if err := device.Activate(
		wca.IID_IAudioEndpointVolume,
		wca.CLSCTX_ALL,
		nil,
		&endpointVolume,
	); err != nil {
		return AudioEndpoint{}, fmt.Errorf("activate endpoint volume: %w", err)
	}

	return AudioEndpoint{
		ID:   id,
		Name: name,
		Control: &wcaVolumeControl{
			endpointVolume: endpointVolume,
			eventCtx:       p.eventCtx,
		},
	}, nil
}

// registerNotificationCallbacks wires the COM notification client. Callbacks
// run on provider-owned threads and only translate into channel sends.
func (p *wcaAudioProvider) registerNotificationCallbacks() error {
	p.mmNotificationClient = &wca.IMMNotificationClient{}
	p.mmNotificationClient.VTable = &wca.IMMNotificationClientVtbl{}

	p.mmNotificationClient.VTable.QueryInterface = syscall.NewCallback(p.noopCallback)
	p.mmNotificationClient.VTable.AddRef = syscall.NewCallback(p.noopCallback)
	p.mmNotificationClient.VTable.Release = syscall.NewCallback(p.noopCallback)
	p.mmNotificationClient.VTable.OnDeviceStateChanged = syscall.NewCallback(p.noopCallback)
	p.mmNotificationClient.VTable.OnDeviceAdded = syscall.NewCallback(p.deviceAddedCallback)
	p.mmNotificationClient.VTable.OnDeviceRemoved = syscall.NewCallback(p.deviceRemovedCallback)
	p.mmNotificationClient.VTable.OnDefaultDeviceChanged = syscall.NewCallback(p.defaultDeviceChangedCallback)
	p.mmNotificationClient.VTable.OnPropertyValueChanged = syscall.NewCallback(p.noopCallback)

	if err := p.mmDeviceEnumerator.RegisterEndpointNotificationCallback(p.mmNotificationClient); err != nil {
		return fmt.Errorf("register endpoint notification callback: %w", err)
	}

	return nil
}

func (p *wcaAudioProvider) deviceAddedCallback(this *wca.IMMNotificationClient, lpcwstr uintptr) uintptr {
	p.sendEvent(AudioDeviceEvent{Type: AudioEventDeviceAdded, DeviceID: lpwstrToString(lpcwstr)})
	return 0
}

func (p *wcaAudioProvider) deviceRemovedCallback(this *wca.IMMNotificationClient, lpcwstr uintptr) uintptr {
	p.sendEvent(AudioDeviceEvent{Type: AudioEventDeviceRemoved, DeviceID: lpwstrToString(lpcwstr)})
	return 0
}

func (p *wcaAudioProvider) defaultDeviceChangedCallback(
	this *wca.IMMNotificationClient,
	EDataFlow, eRole uint32,
	lpcwstr uintptr,
) uintptr {
	now := time.Now()
	if now.Sub(p.lastDefaultDeviceChange) < minDefaultDeviceChangeThreshold {
		return 0
	}
	p.lastDefaultDeviceChange = now

	p.sendEvent(AudioDeviceEvent{Type: AudioEventDefaultChanged, DeviceID: lpwstrToString(lpcwstr)})
	return 0
}

func (p *wcaAudioProvider) noopCallback() uintptr {
	return 0
}

// sendEvent forwards a notification without ever blocking the provider
// thread; the registry re-enumerates on every event, so drops are harmless.
// Sends are serialized against the channel close in Release, since a COM
// callback can still be in flight while the provider shuts down.
func (p *wcaAudioProvider) sendEvent(event AudioDeviceEvent) {
	p.eventsLock.Lock()
	defer p.eventsLock.Unlock()

	if p.eventsClosed {
		return
	}

	select {
	case p.events <- event:
	default:
		p.logger.Debugw("Dropping audio device event, channel full", "type", event.Type)
	}
}

func lpwstrToString(lpcwstr uintptr) string {
	if lpcwstr == 0 {
		return ""
	}
	return ole.LpOleStrToString((*uint16)(unsafe.Pointer(lpcwstr)))
}

// wcaVolumeControl adapts IAudioEndpointVolume to the VolumeControl
// interface. Scalar levels are converted to percent.
type wcaVolumeControl struct {
	endpointVolume *wca.IAudioEndpointVolume
	eventCtx       *ole.GUID
}

func (c *wcaVolumeControl) Volume() (float32, error) {
	var level float32
	if err := c.endpointVolume.GetMasterVolumeLevelScalar(&level); err != nil {
		return 0, fmt.Errorf("get master volume: %w", err)
	}
	return level * 100, nil
}

func (c *wcaVolumeControl) SetVolume(percent float32) error {
	if err := c.endpointVolume.SetMasterVolumeLevelScalar(percent/100, c.eventCtx); err != nil {
		return fmt.Errorf("set master volume: %w", err)
	}
	return nil
}

func (c *wcaVolumeControl) Mute() (bool, error) {
	var muted bool
	if err := c.endpointVolume.GetMute(&muted); err != nil {
		return false, fmt.Errorf("get mute: %w", err)
	}
	return muted, nil
}

func (c *wcaVolumeControl) SetMute(muted bool) error {
	if err := c.endpointVolume.SetMute(muted, c.eventCtx); err != nil {
		return fmt.Errorf("set mute: %w", err)
	}
	return nil
}

func (c *wcaVolumeControl) Release() {
	c.endpointVolume.Release()
}
