//go:build !linux

package keystroke

import "context"

// StubSource is used on platforms without a keyboard source.
type StubSource struct{}

func newPlatformSource(options) Source {
	return StubSource{}
}

// Available returns false on unsupported platforms.
func (StubSource) Available() (bool, string) {
	return false, "keyboard source not implemented for this platform"
}

// Start returns ErrNotAvailable.
func (StubSource) Start(ctx context.Context) error {
	return ErrNotAvailable
}

// Stop is a no-op.
func (StubSource) Stop() error {
	return nil
}
