package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	otahubv1 "github.com/jamesainslie/otahub/pkg/api/otahub/v1"
	"github.com/jamesainslie/otahub/pkg/otahub/output"
)

// Output flags.
var (
	outputFormat string
	templateStr  string
)

func formatList() string {
	return strings.Join(output.Available(), ", ")
}

// resolveFormatter picks the formatter for the -o and --template flags.
func resolveFormatter(format, tmpl string) (output.Formatter, error) {
	if tmpl != "" {
		return output.NewTemplateFormatter(tmpl), nil
	}
	if format == "" {
		format = "pretty"
	}
	f, err := output.Get(format)
	if err != nil {
		return nil, fmt.Errorf("invalid output format %q (available: %s)", format, formatList())
	}
	return f, nil
}

// viewFromResponse converts a daemon state response for the formatters.
func viewFromResponse(resp *otahubv1.StateResponse) *output.View {
	v := &output.View{
		State:    resp.State,
		Transfer: resp.Transfer,
		Device:   resp.Device,
		DaemonUp: true,

		AndroidVersion: resp.AndroidVersion,
		SecurityPatch:  resp.SecurityPatch,
	}
	v.LastCheck, v.Checked = resp.LastCheck()
	return v
}

// render writes v in the selected output format.
func render(w io.Writer, v *output.View) error {
	f, err := resolveFormatter(outputFormat, templateStr)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, v); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// streaming reports whether the output format emits one record per state
// change, rather than a summary line.
func streaming() bool {
	return templateStr != "" || outputFormat == "jsonl"
}
