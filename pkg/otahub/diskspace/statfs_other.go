//go:build !linux && !darwin

package diskspace

// Free is not implemented on this platform.
func Free(path string) (uint64, error) {
	return 0, ErrUnsupported
}
