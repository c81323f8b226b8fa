// Package config provides configuration management for otahub and otahubd.
package config

import "time"

// Default configuration values for otahub.
const (
	// DefaultManifestURL is the base URL of the update manifests. The device
	// codename is appended as the final path segment.
	DefaultManifestURL = "https://raw.githubusercontent.com/AOSPAnda/ota/master/updates"

	// DefaultBuildProp is where the device codename and build time are read from.
	DefaultBuildProp = "/system/build.prop"

	// DefaultChunkSize is the read size of the download loop.
	DefaultChunkSize = "8KiB"

	// DefaultProgressInterval is the longest gap between progress reports while
	// the percentage does not change.
	DefaultProgressInterval = 500 * time.Millisecond

	// DefaultHTTPTimeout bounds a manifest fetch.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultConfigDir is the default configuration directory path.
	DefaultConfigDir = "~/.config/otahub"
)

// DefaultComponentLevels are the per-component log levels written to a new
// config file.
var DefaultComponentLevels = map[string]string{
	"daemon":      "info",
	"coordinator": "info",
	"transfer":    "info",
	"manifest":    "info",
	"scheduler":   "info",
}
