// Package device identifies the device being updated: its codename and the
// installed system's build time, Android version, and security patch level.
package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Property keys read from build.prop, in order of preference.
var (
	codenameKeys  = []string{"ro.product.device", "ro.build.product", "ro.product.system.device"}
	buildTimeKeys = []string{"ro.build.date.utc", "ro.system.build.date.utc"}
	releaseKeys   = []string{"ro.build.version.release", "ro.system.build.version.release"}
	patchKeys     = []string{"ro.build.version.security_patch"}
)

// ErrUnknownDevice is returned when no codename is configured or detectable.
var ErrUnknownDevice = errors.New("device codename unknown: set device in the config file")

// Info describes the installed system.
type Info struct {
	Codename  string
	BuildTime time.Time

	// Informational only; empty when build.prop is unreadable.
	AndroidVersion string
	SecurityPatch  string // as written, usually YYYY-MM-DD
}

// Detect combines configured values with what build.prop reports.
// Configured values win; build.prop fills the gaps. A missing build.prop is
// only an error when the codename cannot be determined otherwise.
func Detect(buildProp, codename string, buildTime int64) (Info, error) {
	info := Info{Codename: codename}
	if buildTime > 0 {
		info.BuildTime = time.Unix(buildTime, 0)
	}
	props, err := ReadBuildProp(buildProp)
	if err != nil {
		if info.Codename == "" {
			return info, fmt.Errorf("%w (%v)", ErrUnknownDevice, err)
		}
		// Codename known, build time unknown: every manifest entry is newer.
		return info, nil
	}

	if info.Codename == "" {
		info.Codename = lookup(props, codenameKeys)
		if info.Codename == "" {
			return info, ErrUnknownDevice
		}
	}
	if info.BuildTime.IsZero() {
		if v := lookup(props, buildTimeKeys); v != "" {
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
				info.BuildTime = time.Unix(secs, 0)
			}
		}
	}
	info.AndroidVersion = lookup(props, releaseKeys)
	info.SecurityPatch = lookup(props, patchKeys)
	return info, nil
}

func lookup(props map[string]string, keys []string) string {
	for _, k := range keys {
		if v := props[k]; v != "" {
			return v
		}
	}
	return ""
}

// ReadBuildProp reads a build.prop file.
func ReadBuildProp(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening build.prop: %w", err)
	}
	defer f.Close()

	return ParseProps(f)
}

// ParseProps parses key=value lines. Blank lines and lines starting with #
// are skipped; later keys override earlier ones.
func ParseProps(r io.Reader) (map[string]string, error) {
	props := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading build.prop: %w", err)
	}
	return props, nil
}
