//go:build linux

package source

import (
	"context"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOPoller reads a presence sensor wired to a GPIO line.
// An active line counts as one person, an inactive line as none.
type GPIOPoller struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewGPIOPoller requests the line as an input with pull-down.
func NewGPIOPoller(chipName string, offset int, activeLow bool) (*GPIOPoller, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := chip.RequestLine(offset, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request gpio line %d: %w", offset, err)
	}

	return &GPIOPoller{chip: chip, line: line}, nil
}

// Read returns "1" while the presence line is active, else "0".
func (g *GPIOPoller) Read(context.Context) (string, error) {
	v, err := g.line.Value()
	if err != nil {
		return "", fmt.Errorf("read gpio line: %w", err)
	}
	return presenceReading(v == 1), nil
}

// Close returns the line to input with pull-down and releases the chip.
func (g *GPIOPoller) Close() error {
	var errs []error
	if g.line != nil {
		if err := g.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
		}
		if err := g.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
