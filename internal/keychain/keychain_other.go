//go:build !darwin

package keychain

import (
	"errors"
	"runtime"
)

// SystemBackend is unavailable outside of macOS.
type SystemBackend struct{}

// NewSystemBackend reports that the macOS keychain is not available on this
// platform. Use the keyring or simple backend instead.
func NewSystemBackend() (*SystemBackend, error) {
	return nil, newError(KindBackend, "init", "keychain", errors.New("macOS keychain is not available on "+runtime.GOOS))
}

func (b *SystemBackend) CreateContainer(name string, _ bool) (Container, error) {
	return nil, newError(KindBackend, "create", name, errors.ErrUnsupported)
}

func (b *SystemBackend) OpenContainer(name string) (Container, error) {
	return nil, newError(KindBackend, "open", name, errors.ErrUnsupported)
}
