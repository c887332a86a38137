//go:build !linux

package ime

func newPlatformSource() (Source, error) {
	return nil, ErrNotAvailable
}
