package mediabridge

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mediactl/mediabridge/pkg/mediabridge/util"
)

// CanonicalConfig provides centralized access to configuration fields
type CanonicalConfig struct {
	TargetAppIDs   []string
	TargetAppName  string
	Thumbnail      ThumbnailConfig
	Transport      string
	ConnectionInfo ConnectionInfo

	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan struct{}

	reloadConsumers []chan bool

	userConfig *viper.Viper
}

// ThumbnailConfig groups the artwork pipeline settings.
type ThumbnailConfig struct {
	Size    int
	Quality int
}

// ConnectionInfo groups serial port settings for the serial transport.
type ConnectionInfo struct {
	COMPort  string
	BaudRate int
}

const (
	userConfigFilepath = "config.yaml"

	userConfigName = "config"
	userConfigPath = "."
	configType     = "yaml"

	configKeyTargetAppIDs     = "target_app_ids"
	configKeyTargetAppName    = "target_app_name"
	configKeyThumbnailSize    = "thumbnail_size"
	configKeyThumbnailQuality = "thumbnail_quality"
	configKeyTransport        = "transport"
	configKeyCOMPort          = "com_port"
	configKeyBaudRate         = "baud_rate"

	defaultThumbnailSize    = 150
	defaultThumbnailQuality = 85
	defaultTargetAppName    = "Яндекс Музыка"
	defaultCOMPort          = "COM7"
	defaultBaudRate         = 9600

	maxThumbnailSize = 1000
)

// defaultTargetAppIDs are the executable names the target app registers its
// media session under.
var defaultTargetAppIDs = []string{"Яндекс Музыка.exe", "Yandex Music.exe"}

// NewConfig initializes the configuration manager
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    make([]chan bool, 0),
		stopWatcherChannel: make(chan struct{}),
	}

	cc.userConfig = viper.New()
	cc.userConfig.SetConfigName(userConfigName)
	cc.userConfig.SetConfigType(configType)
	cc.userConfig.AddConfigPath(userConfigPath)

	cc.userConfig.SetDefault(configKeyTargetAppIDs, defaultTargetAppIDs)
	cc.userConfig.SetDefault(configKeyTargetAppName, defaultTargetAppName)
	cc.userConfig.SetDefault(configKeyThumbnailSize, defaultThumbnailSize)
	cc.userConfig.SetDefault(configKeyThumbnailQuality, defaultThumbnailQuality)
	cc.userConfig.SetDefault(configKeyTransport, transportStdio)
	cc.userConfig.SetDefault(configKeyCOMPort, defaultCOMPort)
	cc.userConfig.SetDefault(configKeyBaudRate, defaultBaudRate)

	logger.Debug("Created configuration instance")

	return cc, nil
}

// Override forces a configuration key to a value, taking precedence over the
// config file. Used for command-line flags.
func (cc *CanonicalConfig) Override(key string, value interface{}) {
	cc.userConfig.Set(key, value)
}

// Load reads and validates the configuration file. A missing file is fine:
// defaults and flag overrides apply.
func (cc *CanonicalConfig) Load() error {
	if util.FileExists(userConfigFilepath) {
		cc.logger.Debugw("Loading user configuration", "path", userConfigFilepath)

		if err := cc.userConfig.ReadInConfig(); err != nil {
			return cc.handleConfigError(err)
		}
	} else {
		cc.logger.Debug("No configuration file found, using defaults")
	}

	cc.populateFromViper()
	return nil
}

// handleConfigError processes errors during config file loading
func (cc *CanonicalConfig) handleConfigError(err error) error {
	cc.logger.Warnw("Failed to load configuration", "error", err)

	if strings.Contains(err.Error(), "yaml:") {
		cc.notifier.Notify("Invalid configuration format!",
			"Ensure the YAML file is properly formatted.")
	} else {
		cc.notifier.Notify("Error loading configuration!", "Check logs for more details.")
	}
	return fmt.Errorf("read user config: %w", err)
}

// populateFromViper reads configuration fields into structured fields
func (cc *CanonicalConfig) populateFromViper() {
	cc.TargetAppIDs = cc.userConfig.GetStringSlice(configKeyTargetAppIDs)
	cc.TargetAppName = cc.userConfig.GetString(configKeyTargetAppName)
	cc.Thumbnail = ThumbnailConfig{
		Size:    cc.validateThumbnailSize(cc.userConfig.GetInt(configKeyThumbnailSize)),
		Quality: cc.validateThumbnailQuality(cc.userConfig.GetInt(configKeyThumbnailQuality)),
	}
	cc.Transport = strings.ToLower(cc.userConfig.GetString(configKeyTransport))
	cc.ConnectionInfo = ConnectionInfo{
		COMPort:  cc.userConfig.GetString(configKeyCOMPort),
		BaudRate: cc.validateBaudRate(cc.userConfig.GetInt(configKeyBaudRate)),
	}

	cc.logger.Debugw("Configuration populated successfully",
		"targetAppIDs", cc.TargetAppIDs,
		"thumbnailSize", cc.Thumbnail.Size,
		"thumbnailQuality", cc.Thumbnail.Quality,
		"transport", cc.Transport)
}

// SubscribeToChanges allows components to receive config reload notifications
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)
	return c
}

// WatchConfigFileChanges watches the config file for changes until stopped.
// Reload consumers are notified after fields have been repopulated.
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	if !util.FileExists(userConfigFilepath) {
		return
	}

	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		cc.logger.Infow("Config file changed, reloading", "file", event.Name)

		if err := cc.userConfig.ReadInConfig(); err != nil {
			cc.logger.Warnw("Failed to re-read configuration", "error", err)
			return
		}

		cc.populateFromViper()

		for _, consumer := range cc.reloadConsumers {
			consumer <- true
		}
	})

	cc.userConfig.WatchConfig()
	<-cc.stopWatcherChannel
}

// StopWatchingConfigFile signals the watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	close(cc.stopWatcherChannel)
}

// validateThumbnailSize checks for a valid square pixel size, returning the
// default if invalid
func (cc *CanonicalConfig) validateThumbnailSize(size int) int {
	if size > 0 && size <= maxThumbnailSize {
		return size
	}
	cc.logger.Warnw("Invalid thumbnail size specified, using default",
		"invalidValue", size, "defaultValue", defaultThumbnailSize)
	return defaultThumbnailSize
}

// validateThumbnailQuality checks for a valid JPEG quality, returning the
// default if invalid
func (cc *CanonicalConfig) validateThumbnailQuality(quality int) int {
	if quality >= 1 && quality <= 100 {
		return quality
	}
	cc.logger.Warnw("Invalid thumbnail quality specified, using default",
		"invalidValue", quality, "defaultValue", defaultThumbnailQuality)
	return defaultThumbnailQuality
}

// validateBaudRate checks for a valid baud rate, returning a default if invalid
func (cc *CanonicalConfig) validateBaudRate(baudRate int) int {
	if baudRate > 0 {
		return baudRate
	}
	cc.logger.Warnw("Invalid baud rate specified, using default",
		"invalidValue", baudRate, "defaultValue", defaultBaudRate)
	return defaultBaudRate
}
