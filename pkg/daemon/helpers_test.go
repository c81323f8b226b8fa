package daemon_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jamesainslie/otahub/pkg/daemon/store"
	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/manifest"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

const (
	testDevice    = "ginkgo"
	testFilename  = "aospa-2.0-ginkgo.zip"
	installedTime = 1000
)

// updateServer publishes one build newer than installedTime and serves its
// file. Setting failing makes the manifest endpoint answer 500.
type updateServer struct {
	*httptest.Server
	payload []byte
	failing atomic.Bool
}

func newUpdateServer(t *testing.T) *updateServer {
	t.Helper()

	u := &updateServer{payload: bytes.Repeat([]byte("otahub-payload-"), 300)}
	sum := sha256.Sum256(u.payload)

	mux := http.NewServeMux()
	mux.HandleFunc("/"+testDevice, func(w http.ResponseWriter, r *http.Request) {
		if u.failing.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"updates":[{"datetime":2000,"filename":%q,"url":"http://%s/files/%s","size":%d,"recovery_sha256":%q,"version":"2.0","version_code":"2"}]}`,
			testFilename, r.Host, testFilename, len(u.payload), hex.EncodeToString(sum[:]))
	})
	mux.HandleFunc("/files/"+testFilename, func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, testFilename, time.Time{}, bytes.NewReader(u.payload))
	})

	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

// newCoordinator builds a coordinator over a real store and engine. It is
// closed, then its store, when the test ends.
func newCoordinator(t *testing.T, manifestURL string) (*coordinator.Coordinator, string) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "otahub.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	downloads := filepath.Join(dir, "downloads")
	c := coordinator.New(coordinator.Config{
		Device:             testDevice,
		InstalledBuildTime: time.Unix(installedTime, 0),
		DownloadDir:        downloads,
		VerifyChecksum:     true,
	}, manifest.NewClient(manifestURL, 5*time.Second), st, transfer.New(transfer.Options{ChunkSize: 256}))
	t.Cleanup(c.Close)

	return c, downloads
}

// shortTempDir returns a directory whose paths fit in a unix socket address.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "otahubd-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}
