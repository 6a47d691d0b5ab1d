package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mediactl/mediabridge/pkg/mediabridge"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose          bool
	thumbnailSize    int
	thumbnailQuality int
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "Show verbose logs (useful for debugging the protocol)")
	flag.BoolVar(&verbose, "v", false, "Shorthand for --verbose")
	flag.IntVar(&thumbnailSize, "thumbnail-size", 0, "Thumbnail size in pixels (default 150)")
	flag.IntVar(&thumbnailQuality, "thumbnail-quality", 0, "Thumbnail JPEG quality, 1-100 (default 85)")
	flag.Parse()
}

func main() {
	// First we need a logger
	logger, err := mediabridge.NewLogger(buildType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	if versionTag != "" || gitCommit != "" {
		named.Infow("Version info", "gitCommit", gitCommit, "versionTag", versionTag, "buildType", buildType)
	}

	if verbose {
		named.Debug("Verbose mode enabled, all log messages will be shown")
	}

	b, err := mediabridge.NewBridge(logger, verbose)
	if err != nil {
		named.Fatalw("Failed to create bridge instance", "error", err)
	}

	// Flag overrides take precedence over the config file.
	if thumbnailSize > 0 {
		b.SetThumbnailSizeOverride(thumbnailSize)
	}
	if thumbnailQuality > 0 {
		b.SetThumbnailQualityOverride(thumbnailQuality)
	}

	if versionTag != "" || gitCommit != "" {
		versionIdentifier := versionTag
		if versionIdentifier == "" {
			versionIdentifier = gitCommit
		}
		b.SetVersion(fmt.Sprintf("Version %s-%s", buildType, versionIdentifier))
	}

	if err := b.Initialize(); err != nil {
		named.Fatalw("Failed to initialize bridge", "error", err)
	}
}
