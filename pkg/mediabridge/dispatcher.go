package mediabridge

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// stateDispatcher merges tracker and registry outputs into outward envelopes,
// one serialized JSON object per line, and routes inbound command lines to
// the owning subsystem.
type stateDispatcher struct {
	logger    *zap.SugaredLogger
	tracker   *mediaSessionTracker
	registry  *audioDeviceRegistry
	transport Transport

	writeLock sync.Mutex

	stopChannel       chan struct{}
	shutdownRequested chan struct{}
	shutdownOnce      sync.Once
}

func newStateDispatcher(
	logger *zap.SugaredLogger,
	tracker *mediaSessionTracker,
	registry *audioDeviceRegistry,
	transport Transport,
) *stateDispatcher {
	logger = logger.Named("dispatcher")

	d := &stateDispatcher{
		logger:            logger,
		tracker:           tracker,
		registry:          registry,
		transport:         transport,
		stopChannel:       make(chan struct{}),
		shutdownRequested: make(chan struct{}),
	}

	logger.Debug("Created state dispatcher instance")

	return d
}

// SubscribeToShutdownRequests returns a channel closed when the parent asked
// to close or the input side of the transport went away.
func (d *stateDispatcher) SubscribeToShutdownRequests() <-chan struct{} {
	return d.shutdownRequested
}

// start subscribes to both state sources and spawns the forward and read
// loops. Must run before the tracker and registry initialize so no emission
// is lost.
func (d *stateDispatcher) start() {
	snapshots := d.tracker.SubscribeToSnapshots()
	deviceLists := d.registry.SubscribeToDeviceLists()

	// The parent gets complete state up front, even an empty device list.
	d.writeMessage(Message{Type: messageTypeVolume, Data: d.registry.DeviceList()})

	go func() {
		for {
			select {
			case <-d.stopChannel:
				return
			case snapshot := <-snapshots:
				d.sendSessionEnvelope(snapshot)
			case list := <-deviceLists:
				d.writeMessage(Message{Type: messageTypeVolume, Data: list})
			}
		}
	}()

	go d.readLoop()
}

func (d *stateDispatcher) stop() {
	close(d.stopChannel)
}

// readLoop is the dedicated blocking read loop over the input sink. It exits
// when the transport closes, signaling orderly shutdown either way.
func (d *stateDispatcher) readLoop() {
	scanner := bufio.NewScanner(d.transport)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		d.handleCommandLine(line)
	}

	select {
	case <-d.stopChannel:
		// Shutting down anyway; the read was interrupted by our own Close.
		return
	default:
	}

	if err := scanner.Err(); err != nil {
		d.logger.Warnw("Failed to read from input transport", "error", err)
		d.ReportError(ErrorData{
			Code:    ErrCodeInputRead,
			Message: "failed to read from input: " + err.Error(),
		})
	} else {
		d.logger.Info("Input closed, requesting shutdown")
	}

	d.requestShutdown()
}

// handleCommandLine parses one inbound line and routes the command. Audio
// commands go to the registry; anything else is attempted as a media command.
func (d *stateDispatcher) handleCommandLine(line string) {
	var command commandMessage
	if err := json.Unmarshal([]byte(line), &command); err != nil {
		d.logger.Debugw("Failed to parse command line", "error", err)
		d.ReportError(ErrorData{
			Code:    ErrCodeJSONParse,
			Message: "failed to parse command: " + err.Error(),
		})
		return
	}

	deviceID := ""
	if command.DeviceID != nil {
		deviceID = *command.DeviceID
	}
	step := 0
	if command.StepPercent != nil {
		step = *command.StepPercent
	}

	switch strings.ToLower(command.Command) {
	case "close":
		d.logger.Info("Close command received, requesting shutdown")
		d.requestShutdown()

	case "volume_up":
		d.reportCommandError(d.registry.VolumeUp(step, deviceID))

	case "volume_down":
		d.reportCommandError(d.registry.VolumeDown(step, deviceID))

	case "set_volume", "setvolume":
		if command.Value == nil {
			d.ReportError(ErrorData{
				Code:    ErrCodeMissingValue,
				Message: "set_volume command requires 'value' parameter",
				Details: map[string]string{"command": command.Command},
			})
			return
		}
		d.reportCommandError(d.registry.SetVolume(*command.Value, deviceID))

	case "toggle_mute":
		d.reportCommandError(d.registry.ToggleMute(deviceID))

	case "mute":
		d.reportCommandError(d.registry.SetMute(true, deviceID))

	case "unmute":
		d.reportCommandError(d.registry.SetMute(false, deviceID))

	default:
		// Best-effort media command; the tracker rejects what it can't map.
		if !d.tracker.SendCommand(command.Command) {
			d.ReportError(ErrorData{
				Code:    ErrCodeMediaCommandFailed,
				Message: "media command '" + command.Command + "' failed",
				Details: map[string]string{"command": command.Command},
			})
		}
	}
}

// sendSessionEnvelope publishes a snapshot (or its absence) enriched with the
// default device's last-published levels.
func (d *stateDispatcher) sendSessionEnvelope(snapshot *SessionSnapshot) {
	if snapshot == nil {
		d.writeMessage(Message{Type: messageTypeSession, Data: nil})
		return
	}

	volume, muted := d.registry.DefaultLevels()

	data := SessionData{
		ID:             snapshot.ID,
		AppID:          snapshot.AppID,
		AppName:        snapshot.AppName,
		Title:          snapshot.Title,
		Artist:         snapshot.Artist,
		Album:          snapshot.Album,
		PlaybackStatus: string(snapshot.PlaybackStatus),
		IsFocused:      snapshot.Focused,
		Volume:         volume,
		IsMuted:        muted,
	}

	if snapshot.Artwork != nil {
		encoded := base64.StdEncoding.EncodeToString(snapshot.Artwork)
		data.ThumbnailBase64 = &encoded
	}

	d.writeMessage(Message{Type: messageTypeSession, Data: data})
}

// ReportError writes a structured error envelope.
func (d *stateDispatcher) ReportError(data ErrorData) {
	d.writeMessage(Message{Type: messageTypeError, Data: data})
}

func (d *stateDispatcher) reportCommandError(err *CommandError) {
	if err == nil {
		return
	}
	d.ReportError(err.AsErrorData())
}

// writeMessage serializes one envelope as exactly one newline-terminated
// line. Writes are unbounded; a stalled reader stalls the writer.
func (d *stateDispatcher) writeMessage(message Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		d.logger.Warnw("Failed to serialize envelope", "type", message.Type, "error", err)
		return
	}

	d.writeLock.Lock()
	defer d.writeLock.Unlock()

	if _, err := d.transport.Write(append(payload, '\n')); err != nil {
		d.logger.Warnw("Failed to write envelope", "type", message.Type, "error", err)
	}
}

func (d *stateDispatcher) requestShutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownRequested)
	})
}
