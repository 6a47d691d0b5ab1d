package mediabridge

import (
	"fmt"
	"io"
	"os"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/mediactl/mediabridge/pkg/mediabridge/util"
)

// Transport is the line-oriented byte pipe connecting the bridge to its
// parent (or to a hardware front-end). Close must unblock a pending Read.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

const (
	transportStdio  = "stdio"
	transportSerial = "serial"
)

// newTransport builds the transport selected by configuration. Stdio is the
// default: commands on stdin, envelopes on stdout, logs elsewhere.
func newTransport(logger *zap.SugaredLogger, config *CanonicalConfig) (Transport, error) {
	logger = logger.Named("transport")

	switch config.Transport {
	case "", transportStdio:
		logger.Debug("Using stdio transport")
		return &stdioTransport{in: os.Stdin, out: os.Stdout}, nil

	case transportSerial:
		return openSerialTransport(logger, config.ConnectionInfo)

	default:
		return nil, fmt.Errorf("unknown transport type: %s", config.Transport)
	}
}

// stdioTransport reads commands from stdin and writes envelopes to stdout.
type stdioTransport struct {
	in  io.ReadCloser
	out io.Writer
}

func (t *stdioTransport) Read(p []byte) (int, error)  { return t.in.Read(p) }
func (t *stdioTransport) Write(p []byte) (int, error) { return t.out.Write(p) }

// Close closes the input side only; stdout stays usable for final log lines.
func (t *stdioTransport) Close() error {
	return t.in.Close()
}

// serialTransport serves the same line protocol over a serial port, for
// hardware controllers that talk to the bridge directly.
type serialTransport struct {
	logger *zap.SugaredLogger
	port   string
	conn   io.ReadWriteCloser
}

func openSerialTransport(logger *zap.SugaredLogger, info ConnectionInfo) (*serialTransport, error) {
	minimumReadSize := 0
	if util.Linux() {
		minimumReadSize = 1
	}

	options := serial.OpenOptions{
		PortName:        info.COMPort,
		BaudRate:        uint(info.BaudRate),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: uint(minimumReadSize),
	}

	logger.Debugw("Opening serial connection",
		"comPort", options.PortName,
		"baudRate", options.BaudRate,
		"minReadSize", minimumReadSize)

	conn, err := serial.Open(options)
	if err != nil {
		logger.Warnw("Failed to open serial connection", "error", err)
		return nil, fmt.Errorf("open serial connection: %w", err)
	}

	logger.Infow("Serial connection established", "port", options.PortName)

	return &serialTransport{logger: logger, port: info.COMPort, conn: conn}, nil
}

func (t *serialTransport) Read(p []byte) (int, error)  { return t.conn.Read(p) }
func (t *serialTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }

func (t *serialTransport) Close() error {
	t.logger.Debugw("Closing serial connection", "port", t.port)
	return t.conn.Close()
}
