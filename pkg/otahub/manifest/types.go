// Package manifest fetches and interprets the per-device OTA update manifest.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Entry is one published build in a device manifest.
type Entry struct {
	Version        string   `json:"version"`
	VersionCode    FlexText `json:"version_code"`
	BuildTime      FlexInt  `json:"datetime"` // epoch seconds
	URL            string   `json:"url"`
	Filename       string   `json:"filename"`
	RecoverySHA256 string   `json:"recovery_sha256"`
	Fastboot       string   `json:"fastboot"`
	FastbootSHA256 string   `json:"fastboot_sha256"`
	ID             string   `json:"id"`
	Size           FlexInt  `json:"size"`
	BuildType      string   `json:"build_type"`
	AndroidVersion string   `json:"android_version"`
	AndroidSPL     string   `json:"android_spl"`
	Date           string   `json:"date"`
	Changelog      string   `json:"changelog_device"`
}

// Key identifies an entry: the same filename with the same checksum is the
// same build.
func (e Entry) Key() string {
	return e.Filename + "@" + e.RecoverySHA256
}

// Built returns BuildTime as a time.Time.
func (e Entry) Built() time.Time {
	return time.Unix(int64(e.BuildTime), 0)
}

// IsZero reports whether e is the zero Entry.
func (e Entry) IsZero() bool {
	return e.Filename == "" && e.URL == "" && e.BuildTime == 0
}

// versionNumber returns VersionCode as a number, or -1 if it is not numeric.
func (e Entry) versionNumber() int64 {
	n, err := strconv.ParseInt(string(e.VersionCode), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// FlexInt is an int64 that decodes from a JSON number or a numeric string.
// Manifests have published datetime and size in both forms.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("numeric string expected, got %q", s)
		}
		*f = FlexInt(n)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	i, err := n.Int64()
	if err != nil {
		// Tolerate 1.7e9 style numbers.
		fl, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("integer expected, got %s", n)
		}
		i = int64(fl)
	}
	*f = FlexInt(i)
	return nil
}

// FlexText is a string that also decodes from a bare JSON number.
type FlexText string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexText(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = FlexText(n.String())
	}
	return nil
}
