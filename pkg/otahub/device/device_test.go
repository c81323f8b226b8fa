package device

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProp = `
# begin build properties
ro.build.id=UQ1A.240205.004
ro.build.date.utc=1709251200
ro.build.product=marble_fallback
ro.product.device=marble
broken line without equals
ro.build.version.release = 14
ro.build.version.security_patch=2024-03-05
`

func writeProp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "build.prop")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseProps(t *testing.T) {
	props, err := ParseProps(strings.NewReader(sampleProp))
	require.NoError(t, err)

	assert.Equal(t, "marble", props["ro.product.device"])
	assert.Equal(t, "1709251200", props["ro.build.date.utc"])
	assert.Equal(t, "14", props["ro.build.version.release"])
	assert.NotContains(t, props, "broken line without equals")
}

func TestDetect(t *testing.T) {
	prop := writeProp(t, sampleProp)

	tests := []struct {
		name      string
		prop      string
		codename  string
		buildTime int64
		want      Info
		wantErr   bool
	}{
		{
			name: "everything from build.prop",
			prop: prop,
			want: Info{Codename: "marble", BuildTime: time.Unix(1709251200, 0), AndroidVersion: "14", SecurityPatch: "2024-03-05"},
		},
		{
			name:      "configured values win",
			prop:      prop,
			codename:  "lisa",
			buildTime: 1700000000,
			want:      Info{Codename: "lisa", BuildTime: time.Unix(1700000000, 0), AndroidVersion: "14", SecurityPatch: "2024-03-05"},
		},
		{
			name:     "configured codename, build time from file",
			prop:     prop,
			codename: "lisa",
			want:     Info{Codename: "lisa", BuildTime: time.Unix(1709251200, 0), AndroidVersion: "14", SecurityPatch: "2024-03-05"},
		},
		{
			name:     "missing build.prop with configured codename",
			prop:     filepath.Join(t.TempDir(), "missing.prop"),
			codename: "lisa",
			want:     Info{Codename: "lisa"},
		},
		{
			name:    "missing build.prop without codename",
			prop:    filepath.Join(t.TempDir(), "missing.prop"),
			wantErr: true,
		},
		{
			name: "fallback codename key",
			prop: writeProp(t, "ro.build.product=alioth\n"),
			want: Info{Codename: "alioth"},
		},
		{
			name:    "no codename keys",
			prop:    writeProp(t, "ro.build.id=X\n"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.prop, tt.codename, tt.buildTime)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownDevice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Codename, got.Codename)
			assert.Equal(t, tt.want.AndroidVersion, got.AndroidVersion)
			assert.Equal(t, tt.want.SecurityPatch, got.SecurityPatch)
			assert.True(t, tt.want.BuildTime.Equal(got.BuildTime), "BuildTime = %v, want %v", got.BuildTime, tt.want.BuildTime)
		})
	}
}
