package mediabridge

import "fmt"

// Envelope type discriminators, one per output line.
const (
	messageTypeSession = "session"
	messageTypeVolume  = "volume"
	messageTypeError   = "error"
)

// Stable error codes reported to the parent process.
const (
	ErrCodeAudioInitFailed    = "AUDIO_INIT_FAILED"
	ErrCodeDeviceNotFound     = "DEVICE_NOT_FOUND"
	ErrCodeNoDefaultDevice    = "NO_DEFAULT_DEVICE"
	ErrCodeActionFailed       = "ACTION_FAILED"
	ErrCodeMissingValue       = "MISSING_VALUE"
	ErrCodeMediaCommandFailed = "MEDIA_COMMAND_FAILED"
	ErrCodeJSONParse          = "JSON_PARSE_ERROR"
	ErrCodeInputRead          = "STDIN_READ_ERROR"
)

// Message is the outward envelope, serialized as exactly one JSON line.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SessionData is the payload of a "session" envelope. Volume and mute reflect
// the default output device at emission time.
type SessionData struct {
	ID              string  `json:"id"`
	AppID           string  `json:"appId"`
	AppName         string  `json:"appName"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
	PlaybackStatus  string  `json:"playbackStatus"`
	ThumbnailBase64 *string `json:"thumbnailBase64"`
	IsFocused       bool    `json:"isFocused"`
	Volume          int     `json:"volume"`
	IsMuted         bool    `json:"isMuted"`
}

// DeviceInfo is one element of a "volume" envelope's device list payload.
type DeviceInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	IsMuted   bool   `json:"isMuted"`
	Volume    int    `json:"volume"`
}

// ErrorData is the payload of an "error" envelope.
type ErrorData struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// commandMessage is one inbound control line from the parent process.
type commandMessage struct {
	Command     string  `json:"command"`
	StepPercent *int    `json:"stepPercent,omitempty"`
	Value       *int    `json:"value,omitempty"`
	DeviceID    *string `json:"deviceId,omitempty"`
}

// CommandError is a structured per-command failure. It carries a stable code
// so it can be forwarded verbatim as an error envelope.
type CommandError struct {
	Code    string
	Message string
	Details interface{}
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsErrorData converts the failure into an error envelope payload.
func (e *CommandError) AsErrorData() ErrorData {
	return ErrorData{Code: e.Code, Message: e.Message, Details: e.Details}
}

func newCommandError(code string, format string, args ...interface{}) *CommandError {
	return &CommandError{Code: code, Message: fmt.Sprintf(format, args...)}
}
