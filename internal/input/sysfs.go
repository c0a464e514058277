package input

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"spotiknob/internal/core"
)

// SysfsSampler reads active-low buttons from the sysfs GPIO interface and the
// encoder position from a file holding a decimal integer.
type SysfsSampler struct {
	base        string
	pins        []int
	encoderPath string
}

func NewSysfsSampler(config *core.InputConfig) (*SysfsSampler, error) {
	if len(config.ButtonPins) != core.NumButtons {
		return nil, fmt.Errorf("expected %d button pins, got %d", core.NumButtons, len(config.ButtonPins))
	}
	base := config.GPIOBase
	if base == "" {
		base = core.DefaultGPIOBase
	}
	return &SysfsSampler{
		base:        base,
		pins:        append([]int(nil), config.ButtonPins...),
		encoderPath: config.EncoderPath,
	}, nil
}

// Export makes every button pin available as an input. Pins that are
// already exported are left alone.
func (s *SysfsSampler) Export() error {
	for _, pin := range s.pins {
		dir := s.pinDir(pin)
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(filepath.Join(s.base, "export"), []byte(strconv.Itoa(pin)), 0o200); err != nil {
				return fmt.Errorf("export gpio%d: %w", pin, err)
			}
		}
		if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("in"), 0o644); err != nil {
			return fmt.Errorf("set gpio%d direction: %w", pin, err)
		}
	}
	return nil
}

func (s *SysfsSampler) Sample() (Snapshot, error) {
	var snap Snapshot
	for i, pin := range s.pins {
		value, err := readTrimmed(filepath.Join(s.pinDir(pin), "value"))
		if err != nil {
			return Snapshot{}, fmt.Errorf("read gpio%d: %w", pin, err)
		}
		// active low
		snap.Pressed[i] = value == "0"
	}

	if s.encoderPath != "" {
		value, err := readTrimmed(s.encoderPath)
		if err != nil {
			return Snapshot{}, fmt.Errorf("read encoder: %w", err)
		}
		position, err := strconv.Atoi(value)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parse encoder position %q: %w", value, err)
		}
		snap.Position = position
	}
	return snap, nil
}

func (s *SysfsSampler) pinDir(pin int) string {
	return filepath.Join(s.base, "gpio"+strconv.Itoa(pin))
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
