package mediabridge

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/mediactl/mediabridge/pkg/mediabridge/util"
)

const (
	crashlogFilename        = "mediabridge-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"
	crashMessageTemplate    = `-----------------------------------------------------------------
                     mediabridge crashlog
-----------------------------------------------------------------
Time: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

// recoverFromPanic handles application panics, logs the error, and attempts to shut down gracefully.
func (b *Bridge) recoverFromPanic() {
	if r := recover(); r != nil {
		b.handlePanic(r)
	}
}

// handlePanic logs the panic details, writes a crash log file, and exits
// with a non-zero code. Any exception escaping the process boundary is fatal.
func (b *Bridge) handlePanic(recoverValue interface{}) {
	now := time.Now()
	crashlogPath := filepath.Join(logDirectory, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))

	// Create the crash log content.
	crashLogContent := b.createCrashLogContent(now, recoverValue)

	// Ensure the log directory exists.
	if err := util.EnsureDirExists(logDirectory); err != nil {
		panic(fmt.Errorf("failed to create log directory: %w", err))
	}

	// Write the crash log file.
	if err := os.WriteFile(crashlogPath, crashLogContent, 0644); err != nil {
		panic(fmt.Errorf("failed to write crash log: %w", err))
	}

	// Log the crash.
	b.logger.Errorw("Application panic encountered",
		"crashlogPath", crashlogPath,
		"error", recoverValue)

	// Attempt to shut down gracefully.
	b.signalStop()

	// Exit with an error code.
	b.logger.Errorw("Exiting due to panic", "exitCode", 1)
	os.Exit(1)
}

// createCrashLogContent generates the formatted crash log content.
func (b *Bridge) createCrashLogContent(timestamp time.Time, recoverValue interface{}) []byte {
	return []byte(fmt.Sprintf(crashMessageTemplate,
		timestamp.Format(crashlogTimestampFormat),
		recoverValue,
		debug.Stack(),
	))
}
