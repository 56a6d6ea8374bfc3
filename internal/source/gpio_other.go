//go:build !linux

package source

import "context"

// GPIOPoller is not available on non-Linux platforms.
type GPIOPoller struct{}

// NewGPIOPoller returns ErrNotSupported on non-Linux platforms.
func NewGPIOPoller(string, int, bool) (*GPIOPoller, error) {
	return nil, ErrNotSupported
}

// Read is not implemented on non-Linux platforms.
func (g *GPIOPoller) Read(context.Context) (string, error) {
	return "", ErrNotSupported
}

// Close is not implemented on non-Linux platforms.
func (g *GPIOPoller) Close() error {
	return nil
}
