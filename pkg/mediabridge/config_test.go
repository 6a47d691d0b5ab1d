package mediabridge

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeNotifier struct {
	titles []string
}

func (n *fakeNotifier) Notify(title, message string) {
	n.titles = append(n.titles, title)
}

// inTempDir runs the test with a temporary working directory, since the
// config loader resolves its file relative to the process.
func inTempDir(t *testing.T) string {
	t.Helper()

	previous, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(previous); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})

	return dir
}

func writeConfigFile(t *testing.T, dir, contents string) {
	t.Helper()

	if err := os.WriteFile(filepath.Join(dir, userConfigFilepath), []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

func TestConfigDefaultsWithoutFile(t *testing.T) {
	inTempDir(t)

	config, err := NewConfig(testLogger(), &fakeNotifier{})
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}
	if err := config.Load(); err != nil {
		t.Fatalf("expected a missing config file to be fine: %v", err)
	}

	if len(config.TargetAppIDs) != 2 {
		t.Errorf("expected two default app ids, got %v", config.TargetAppIDs)
	}
	if config.TargetAppName != defaultTargetAppName {
		t.Errorf("unexpected default app name: %q", config.TargetAppName)
	}
	if config.Thumbnail.Size != defaultThumbnailSize || config.Thumbnail.Quality != defaultThumbnailQuality {
		t.Errorf("unexpected default thumbnail settings: %+v", config.Thumbnail)
	}
	if config.Transport != transportStdio {
		t.Errorf("expected stdio transport by default, got %q", config.Transport)
	}
}

func TestConfigLoadsFromFile(t *testing.T) {
	dir := inTempDir(t)
	writeConfigFile(t, dir, `
target_app_ids:
  - custom-player.exe
target_app_name: Custom Player
thumbnail_size: 200
thumbnail_quality: 70
transport: serial
com_port: COM3
baud_rate: 115200
`)

	config, err := NewConfig(testLogger(), &fakeNotifier{})
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}
	if err := config.Load(); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(config.TargetAppIDs) != 1 || config.TargetAppIDs[0] != "custom-player.exe" {
		t.Errorf("unexpected app ids: %v", config.TargetAppIDs)
	}
	if config.TargetAppName != "Custom Player" {
		t.Errorf("unexpected app name: %q", config.TargetAppName)
	}
	if config.Thumbnail.Size != 200 || config.Thumbnail.Quality != 70 {
		t.Errorf("unexpected thumbnail settings: %+v", config.Thumbnail)
	}
	if config.Transport != transportSerial {
		t.Errorf("unexpected transport: %q", config.Transport)
	}
	if config.ConnectionInfo.COMPort != "COM3" || config.ConnectionInfo.BaudRate != 115200 {
		t.Errorf("unexpected serial settings: %+v", config.ConnectionInfo)
	}
}

func TestConfigRejectsInvalidValues(t *testing.T) {
	dir := inTempDir(t)
	writeConfigFile(t, dir, `
thumbnail_size: 5000
thumbnail_quality: 0
baud_rate: -1
`)

	config, err := NewConfig(testLogger(), &fakeNotifier{})
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}
	if err := config.Load(); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if config.Thumbnail.Size != defaultThumbnailSize {
		t.Errorf("expected out-of-range size to fall back, got %d", config.Thumbnail.Size)
	}
	if config.Thumbnail.Quality != defaultThumbnailQuality {
		t.Errorf("expected invalid quality to fall back, got %d", config.Thumbnail.Quality)
	}
	if config.ConnectionInfo.BaudRate != defaultBaudRate {
		t.Errorf("expected invalid baud rate to fall back, got %d", config.ConnectionInfo.BaudRate)
	}
}

func TestConfigOverrideBeatsFile(t *testing.T) {
	dir := inTempDir(t)
	writeConfigFile(t, dir, "thumbnail_size: 200\n")

	config, err := NewConfig(testLogger(), &fakeNotifier{})
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	config.Override(configKeyThumbnailSize, 300)

	if err := config.Load(); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if config.Thumbnail.Size != 300 {
		t.Errorf("expected flag override to win, got %d", config.Thumbnail.Size)
	}
}

func TestConfigNotifiesOnBrokenFile(t *testing.T) {
	dir := inTempDir(t)
	writeConfigFile(t, dir, "thumbnail_size: [broken\n")

	notifier := &fakeNotifier{}
	config, err := NewConfig(testLogger(), notifier)
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	if err := config.Load(); err == nil {
		t.Fatal("expected a load error for broken yaml")
	}
	if len(notifier.titles) == 0 {
		t.Error("expected the user to be notified about the broken file")
	}
}
