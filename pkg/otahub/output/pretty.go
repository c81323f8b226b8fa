package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
)

// barWidth is the number of cells in the progress bar.
const barWidth = 30

// PrettyFormatter formats the view with colors and boxes using lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, v *View) error {
	w.WriteString(f.formatHeader(v))
	w.WriteString("\n")
	w.WriteString(f.formatBody(v))
	w.WriteString(f.formatFooter(v))
	w.WriteString("\n")
	return nil
}

func (f *PrettyFormatter) formatHeader(v *View) string {
	var parts []string

	device := v.Device
	if device == "" {
		device = "unknown"
	}
	parts = append(parts, fmt.Sprintf("%s %s", LabelStyle.Render("Device:"), ValueStyle.Render(device)))
	if v.AndroidVersion != "" {
		parts = append(parts, fmt.Sprintf("%s %s", LabelStyle.Render("Android:"), ValueStyle.Render(v.AndroidVersion)))
	}
	if v.SecurityPatch != "" {
		parts = append(parts, fmt.Sprintf("%s %s", LabelStyle.Render("Patch:"), ValueStyle.Render(FormatSecurityPatch(v.SecurityPatch))))
	}

	if v.DaemonUp {
		parts = append(parts, SuccessStyle.Render("daemon: up"))
	} else {
		parts = append(parts, MutedStyle.Render("daemon: off"))
	}

	return HeaderBox.Render(strings.Join(parts, "  "))
}

func (f *PrettyFormatter) formatBody(v *View) string {
	s := v.State
	var lines []string

	lines = append(lines, "  "+stateStyle(s.Kind).Render(stateTitle(s.Kind)))

	if e := s.Entry; e != nil {
		lines = append(lines,
			field("Version:", e.Version),
			field("File:", e.Filename),
			fmt.Sprintf("  %s %s", LabelStyle.Render("Size:"), SizeStyle.Render(e.SizeString())),
		)
		if e.AndroidVersion != "" {
			lines = append(lines, field("Android:", e.AndroidVersion))
		}
		if e.AndroidSPL != "" {
			lines = append(lines, field("Patch:", FormatSecurityPatch(e.AndroidSPL)))
		}
	}

	if s.Kind == coordinator.Downloading || s.Kind == coordinator.Paused {
		lines = append(lines, "  "+progressBar(s.Progress, barWidth)+" "+
			ValueStyle.Render(ProgressString(s.Progress, s.Downloaded, s.Total)))
	}

	if s.FilePath != "" {
		lines = append(lines, field("Path:", s.FilePath))
	}
	if s.Message != "" {
		lines = append(lines, "  "+ErrorStyle.Render(s.Message))
	}

	if e := s.Entry; e != nil && s.Kind == coordinator.UpdateAvailable && e.Changelog != "" {
		lines = append(lines, "", "  "+LabelStyle.Render("Changelog:"))
		for _, l := range changelogLines(e.Changelog) {
			lines = append(lines, "    "+MutedStyle.Render(l))
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

func (f *PrettyFormatter) formatFooter(v *View) string {
	now := v.now()
	last := FormatLastCheck(v.LastCheck, v.Checked, now)
	if v.Checked {
		last += " (" + RelativeLastCheck(v.LastCheck, v.Checked, now) + ")"
	}

	parts := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render("Last check:"), ValueStyle.Render(last)),
		MutedStyle.Render("Use -o plain for unformatted output"),
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

// changelogLines splits a changelog into trimmed, non-empty lines.
func changelogLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func field(label, value string) string {
	return fmt.Sprintf("  %s %s", LabelStyle.Render(label), ValueStyle.Render(value))
}

func stateTitle(k coordinator.Kind) string {
	switch k {
	case coordinator.Checking:
		return "Checking for update"
	case coordinator.UpdateAvailable:
		return "Update available"
	case coordinator.Preparing:
		return "Preparing download"
	case coordinator.Downloading:
		return "Downloading"
	case coordinator.Paused:
		return "Paused"
	case coordinator.Downloaded:
		return "Download complete"
	case coordinator.Cancelled:
		return "Download cancelled"
	case coordinator.Error:
		return "Error"
	default:
		return "System is up to date"
	}
}

func stateStyle(k coordinator.Kind) lipgloss.Style {
	switch k {
	case coordinator.Downloaded:
		return SuccessStyle.Bold(true)
	case coordinator.Paused, coordinator.Cancelled:
		return WarningStyle.Bold(true)
	case coordinator.Error:
		return ErrorStyle.Bold(true)
	default:
		return TitleStyle
	}
}

// progressBar renders percent as a fixed-width bar. An indeterminate
// percent renders an empty bar.
func progressBar(percent, width int) string {
	filled := 0
	if percent > 0 {
		filled = percent * width / 100
	}
	if filled > width {
		filled = width
	}
	return BarFilledStyle.Render(strings.Repeat("█", filled)) +
		BarEmptyStyle.Render(strings.Repeat("░", width-filled))
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
