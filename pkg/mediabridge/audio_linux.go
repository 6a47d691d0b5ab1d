package mediabridge

import (
	"fmt"
	"net"
	"sync"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

const (
	// Volume of a single channel at 100%
	maxChannelVolume = 0x10000

	audioEventBuffer = 32
)

// paAudioProvider exposes PulseAudio sinks as audio output endpoints.
type paAudioProvider struct {
	logger *zap.SugaredLogger

	client *proto.Client
	conn   net.Conn

	eventsLock   sync.Mutex
	eventsClosed bool
	events       chan AudioDeviceEvent
}

func newAudioProvider(logger *zap.SugaredLogger) (AudioProvider, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("mediabridge"),
		},
	}
	if err := client.Request(&request, &proto.SetClientNameReply{}); err != nil {
		conn.Close()
		logger.Warnw("Failed to set client name", "error", err)
		return nil, fmt.Errorf("set client name: %w", err)
	}

	p := &paAudioProvider{
		logger: logger.Named("pulse"),
		client: client,
		conn:   conn,
		events: make(chan AudioDeviceEvent, audioEventBuffer),
	}

	p.logger.Debug("Created PulseAudio provider instance")

	return p, nil
}

func (p *paAudioProvider) Start() error {
	p.client.Callback = p.handleServerEvent

	request := proto.Subscribe{
		Mask: proto.SubscriptionMaskSink | proto.SubscriptionMaskServer,
	}
	if err := p.client.Request(&request, nil); err != nil {
		p.logger.Warnw("Failed to subscribe to server events", "error", err)
		return fmt.Errorf("subscribe to server events: %w", err)
	}

	return nil
}

func (p *paAudioProvider) Events() <-chan AudioDeviceEvent {
	return p.events
}

func (p *paAudioProvider) Endpoints() ([]AudioEndpoint, error) {
	request := proto.GetSinkInfoList{}
	reply := proto.GetSinkInfoListReply{}

	if err := p.client.Request(&request, &reply); err != nil {
		return nil, fmt.Errorf("get sink list: %w", err)
	}

	endpoints := make([]AudioEndpoint, 0, len(reply))

	for _, info := range reply {
		name := info.Device
		if name == "" {
			name = info.SinkName
		}

		endpoints = append(endpoints, AudioEndpoint{
			ID:   info.SinkName,
			Name: name,
			Control: &paVolumeControl{
				client:    p.client,
				sinkIndex: info.SinkIndex,
				channels:  byte(len(info.ChannelVolumes)),
			},
		})
	}

	return endpoints, nil
}

func (p *paAudioProvider) DefaultEndpointID() (string, error) {
	request := proto.GetServerInfo{}
	reply := proto.GetServerInfoReply{}

	if err := p.client.Request(&request, &reply); err != nil {
		return "", fmt.Errorf("get server info: %w", err)
	}

	return reply.DefaultSinkName, nil
}

func (p *paAudioProvider) Release() error {
	defer p.logger.Debug("Released PulseAudio provider instance")

	// The connection goes down first; that stops the client's reader
	// goroutine, the source of every callback.
	err := p.conn.Close()
	if err != nil {
		p.logger.Warnw("Failed to close PulseAudio connection", "error", err)
	}

	p.closeEvents()

	if err != nil {
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}

	return nil
}

// closeEvents closes the event channel exactly once, serialized against
// callback sends still in flight.
func (p *paAudioProvider) closeEvents() {
	p.eventsLock.Lock()
	defer p.eventsLock.Unlock()

	if !p.eventsClosed {
		p.eventsClosed = true
		close(p.events)
	}
}

// handleServerEvent translates pulse subscription events. It runs on the
// client's reader goroutine, so it only performs a non-blocking send.
func (p *paAudioProvider) handleServerEvent(val interface{}) {
	event, ok := val.(*proto.SubscribeEvent)
	if !ok {
		return
	}

	var translated AudioDeviceEvent

	switch event.Event & proto.EventFacilityMask {
	case proto.EventSink:
		switch event.Event & proto.EventTypeMask {
		case proto.EventNew:
			translated = AudioDeviceEvent{Type: AudioEventDeviceAdded}
		case proto.EventRemove:
			translated = AudioDeviceEvent{Type: AudioEventDeviceRemoved}
		default:
			return
		}
	case proto.EventServer:
		// Server events cover default sink changes among other things;
		// the registry re-checks the default on every refresh anyway.
		translated = AudioDeviceEvent{Type: AudioEventDefaultChanged}
	default:
		return
	}

	p.eventsLock.Lock()
	defer p.eventsLock.Unlock()

	if p.eventsClosed {
		return
	}

	select {
	case p.events <- translated:
	default:
		p.logger.Debugw("Dropping audio device event, channel full", "type", translated.Type)
	}
}

// paVolumeControl adapts a single sink to the VolumeControl interface.
type paVolumeControl struct {
	client    *proto.Client
	sinkIndex uint32
	channels  byte
}

func (c *paVolumeControl) Volume() (float32, error) {
	reply, err := c.sinkInfo()
	if err != nil {
		return 0, err
	}
	return parseChannelVolumes(reply.ChannelVolumes) * 100, nil
}

func (c *paVolumeControl) SetVolume(percent float32) error {
	request := proto.SetSinkVolume{
		SinkIndex:      c.sinkIndex,
		ChannelVolumes: createChannelVolumes(c.channels, percent/100),
	}
	if err := c.client.Request(&request, nil); err != nil {
		return fmt.Errorf("set sink volume: %w", err)
	}
	return nil
}

func (c *paVolumeControl) Mute() (bool, error) {
	reply, err := c.sinkInfo()
	if err != nil {
		return false, err
	}
	return reply.Mute, nil
}

func (c *paVolumeControl) SetMute(muted bool) error {
	request := proto.SetSinkMute{
		SinkIndex: c.sinkIndex,
		Mute:      muted,
	}
	if err := c.client.Request(&request, nil); err != nil {
		return fmt.Errorf("set sink mute: %w", err)
	}
	return nil
}

func (c *paVolumeControl) Release() {
	// Sink handles are plain indices, nothing to free
}

func (c *paVolumeControl) sinkInfo() (*proto.GetSinkInfoReply, error) {
	request := proto.GetSinkInfo{SinkIndex: c.sinkIndex}
	reply := proto.GetSinkInfoReply{}

	if err := c.client.Request(&request, &reply); err != nil {
		return nil, fmt.Errorf("get sink info: %w", err)
	}

	return &reply, nil
}

func createChannelVolumes(channels byte, volume float32) []uint32 {
	volumes := make([]uint32, channels)
	for i := range volumes {
		volumes[i] = uint32(volume * maxChannelVolume)
	}
	return volumes
}

func parseChannelVolumes(volumes []uint32) float32 {
	var total uint32
	for _, volume := range volumes {
		total += volume
	}
	if len(volumes) == 0 {
		return 0
	}
	return float32(total) / float32(len(volumes)) / float32(maxChannelVolume)
}
