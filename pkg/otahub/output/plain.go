package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
)

// PlainFormatter writes aligned "key  value" lines without colors, for
// scripts and pipes.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, v *View) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	s := v.State
	now := v.now()

	row := func(key, value string) {
		fmt.Fprintf(tw, "%s\t%s\n", key, value)
	}

	row("STATE", s.Kind.String())
	if v.Device != "" {
		row("DEVICE", v.Device)
	}
	if v.AndroidVersion != "" {
		row("ANDROID", v.AndroidVersion)
	}
	if v.SecurityPatch != "" {
		row("SECURITY PATCH", FormatSecurityPatch(v.SecurityPatch))
	}
	if e := s.Entry; e != nil {
		row("VERSION", e.Version)
		row("FILE", e.Filename)
		row("SIZE", e.SizeString())
		if e.AndroidVersion != "" {
			row("UPDATE ANDROID", e.AndroidVersion)
		}
		if e.AndroidSPL != "" {
			row("UPDATE PATCH", FormatSecurityPatch(e.AndroidSPL))
		}
	}
	if showsProgress(s.Kind) {
		row("PROGRESS", ProgressString(s.Progress, s.Downloaded, s.Total))
	}
	if s.FilePath != "" {
		row("PATH", s.FilePath)
	}
	if s.Message != "" {
		row("MESSAGE", s.Message)
	}
	row("LAST CHECK", FormatLastCheck(v.LastCheck, v.Checked, now))

	if err := tw.Flush(); err != nil {
		return err
	}

	// The changelog is free text; keep it out of the aligned columns.
	if e := s.Entry; e != nil && s.Kind == coordinator.UpdateAvailable && e.Changelog != "" {
		w.WriteString("\nCHANGELOG\n")
		for _, l := range changelogLines(e.Changelog) {
			w.WriteString("  " + l + "\n")
		}
	}
	return nil
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
