// Package diskspace reports free space on the volume holding a directory.
package diskspace

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
)

// ErrInsufficientSpace is returned by Check when the volume is too small.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// ErrUnsupported is returned by Free on platforms without a statfs call.
var ErrUnsupported = errors.New("free space detection not supported on this platform")

// Check returns ErrInsufficientSpace if fewer than need bytes are free on the
// volume holding dir. dir is created if missing. need <= 0 always passes, and
// platforms that cannot report free space pass too.
func Check(dir string, need int64) error {
	if need <= 0 {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	free, err := Free(dir)
	if errors.Is(err, ErrUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}

	if uint64(need) > free {
		return fmt.Errorf("%w: need %s, %s free in %s", ErrInsufficientSpace,
			humanize.IBytes(uint64(need)), humanize.IBytes(free), dir)
	}
	return nil
}
