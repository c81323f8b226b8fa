package diskspace

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFree(t *testing.T) {
	free, err := Free(t.TempDir())
	if errors.Is(err, ErrUnsupported) {
		t.Skip("free space not supported on this platform")
	}
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}

func TestCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")

	assert.NoError(t, Check(dir, 0))
	assert.NoError(t, Check(dir, 1))
	assert.DirExists(t, dir)

	if _, err := Free(dir); errors.Is(err, ErrUnsupported) {
		t.Skip("free space not supported on this platform")
	}

	err := Check(dir, math.MaxInt64)
	assert.ErrorIs(t, err, ErrInsufficientSpace)
	assert.Contains(t, err.Error(), "free in")
}
