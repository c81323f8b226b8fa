package output

import (
	"time"

	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
)

// document is the structured form shared by the json and yaml formatters.
type document struct {
	State     string       `json:"state" yaml:"state"`
	Summary   string       `json:"summary" yaml:"summary"`
	Device    string       `json:"device,omitempty" yaml:"device,omitempty"`
	System    *systemDoc   `json:"system,omitempty" yaml:"system,omitempty"`
	Update    *updateDoc   `json:"update,omitempty" yaml:"update,omitempty"`
	Progress  *progressDoc `json:"progress,omitempty" yaml:"progress,omitempty"`
	File      string       `json:"file,omitempty" yaml:"file,omitempty"`
	Message   string       `json:"message,omitempty" yaml:"message,omitempty"`
	LastCheck lastCheckDoc `json:"last_check" yaml:"last_check"`
	Transfer  transferDoc  `json:"transfer" yaml:"transfer"`
	DaemonUp  bool         `json:"daemon_up" yaml:"daemon_up"`
}

type updateDoc struct {
	Version   string    `json:"version" yaml:"version"`
	Filename  string    `json:"filename" yaml:"filename"`
	Size      int64     `json:"size" yaml:"size"`
	SizeHuman string    `json:"size_human" yaml:"size_human"`
	BuildTime time.Time `json:"build_time" yaml:"build_time"`
	URL       string    `json:"url" yaml:"url"`
	SHA256    string    `json:"sha256,omitempty" yaml:"sha256,omitempty"`

	AndroidVersion string `json:"android_version,omitempty" yaml:"android_version,omitempty"`
	SecurityPatch  string `json:"security_patch,omitempty" yaml:"security_patch,omitempty"`
	Changelog      string `json:"changelog,omitempty" yaml:"changelog,omitempty"`
}

type systemDoc struct {
	AndroidVersion string `json:"android_version,omitempty" yaml:"android_version,omitempty"`
	SecurityPatch  string `json:"security_patch,omitempty" yaml:"security_patch,omitempty"`
}

type progressDoc struct {
	Percent    int   `json:"percent" yaml:"percent"`
	Downloaded int64 `json:"downloaded" yaml:"downloaded"`
	Total      int64 `json:"total" yaml:"total"`
}

type lastCheckDoc struct {
	At       *time.Time `json:"at,omitempty" yaml:"at,omitempty"`
	Display  string     `json:"display" yaml:"display"`
	Relative string     `json:"relative" yaml:"relative"`
}

type transferDoc struct {
	State      string `json:"state" yaml:"state"`
	ID         string `json:"id,omitempty" yaml:"id,omitempty"`
	Downloaded int64  `json:"downloaded" yaml:"downloaded"`
	Total      int64  `json:"total" yaml:"total"`
	Path       string `json:"path,omitempty" yaml:"path,omitempty"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func showsProgress(k coordinator.Kind) bool {
	switch k {
	case coordinator.Preparing, coordinator.Downloading, coordinator.Paused, coordinator.Downloaded:
		return true
	}
	return false
}

func buildDocument(v *View) document {
	now := v.now()
	s := v.State

	doc := document{
		State:    s.Kind.String(),
		Summary:  Summary(s),
		Device:   v.Device,
		File:     s.FilePath,
		Message:  s.Message,
		DaemonUp: v.DaemonUp,
		LastCheck: lastCheckDoc{
			Display:  FormatLastCheck(v.LastCheck, v.Checked, now),
			Relative: RelativeLastCheck(v.LastCheck, v.Checked, now),
		},
		Transfer: transferDoc{
			State:      v.Transfer.State.String(),
			ID:         v.Transfer.ID,
			Downloaded: v.Transfer.Downloaded,
			Total:      v.Transfer.Total,
			Path:       v.Transfer.Path,
			Reason:     v.Transfer.Reason,
		},
	}

	if v.AndroidVersion != "" || v.SecurityPatch != "" {
		doc.System = &systemDoc{
			AndroidVersion: v.AndroidVersion,
			SecurityPatch:  v.SecurityPatch,
		}
	}

	if v.Checked {
		at := v.LastCheck
		doc.LastCheck.At = &at
	}

	if e := s.Entry; e != nil {
		doc.Update = &updateDoc{
			Version:   e.Version,
			Filename:  e.Filename,
			Size:      int64(e.Size),
			SizeHuman: e.SizeString(),
			BuildTime: e.Built().UTC(),
			URL:       e.URL,
			SHA256:    e.RecoverySHA256,

			AndroidVersion: e.AndroidVersion,
			SecurityPatch:  e.AndroidSPL,
			Changelog:      e.Changelog,
		}
	}

	if showsProgress(s.Kind) {
		doc.Progress = &progressDoc{
			Percent:    s.Progress,
			Downloaded: s.Downloaded,
			Total:      s.Total,
		}
	}

	return doc
}
