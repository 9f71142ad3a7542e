package fio

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownDirection = errors.New("unknown data direction")

// Direction is the data direction code fio writes in its logs.
type Direction int

const (
	Read  Direction = 0
	Write Direction = 1
	Trim  Direction = 2
)

func DirectionFromCode(code int) (Direction, error) {
	switch d := Direction(code); d {
	case Read, Write, Trim:
		return d, nil
	}
	return 0, fmt.Errorf("%w: code %d", ErrUnknownDirection, code)
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	case "trim":
		return Trim, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	case Trim:
		return "trim"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// DirectionNames are the qualifiers a direction adds to a measurement id.
var DirectionNames = []string{Read.String(), Write.String(), Trim.String()}

// Mode is an fio --rw mode together with the data directions it produces. Logs of a mode with n
// directions hold n lines per sample index.
type Mode struct {
	Name       string      `mapstructure:"name"`
	Directions []Direction `mapstructure:"directions"`
}

func (m Mode) DirectionCount() int {
	return len(m.Directions)
}

func (m Mode) Has(d Direction) bool {
	for _, md := range m.Directions {
		if md == d {
			return true
		}
	}
	return false
}

func (m Mode) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("fio mode without a name")
	}
	if len(m.Directions) == 0 {
		return fmt.Errorf("fio mode %s declares no directions", m.Name)
	}
	seen := map[Direction]bool{}
	for _, d := range m.Directions {
		if _, err := DirectionFromCode(int(d)); err != nil {
			return fmt.Errorf("fio mode %s: %w", m.Name, err)
		}
		if seen[d] {
			return fmt.Errorf("fio mode %s declares %s twice", m.Name, d)
		}
		seen[d] = true
	}
	return nil
}
