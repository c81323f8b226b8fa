package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrChecksumMismatch is returned by VerifyFile when the digest differs.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// VerifyFile compares the sha256 of the file at path with want (hex, any
// case). An empty want skips verification.
func VerifyFile(path, want string) error {
	want = strings.TrimSpace(want)
	if want == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, strings.ToLower(want))
	}
	return nil
}
