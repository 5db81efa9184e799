package terminal

import (
	"errors"

	"github.com/ricochet1k/termemu"
)

var ErrNotInitialized = errors.New("terminal not initialized")

// SendInput applies input to term. Text, raw and control input is written
// towards the remote side; resize changes the emulated grid.
func SendInput(term termemu.Terminal, input Input) error {
	if term == nil {
		return ErrNotInitialized
	}

	switch input.Kind {
	case InputText:
		if input.Text == "" {
			return nil
		}
		_, err := term.Write([]byte(input.Text))
		return err

	case InputRaw:
		if len(input.Raw) == 0 {
			return nil
		}
		_, err := term.Write(input.Raw)
		return err

	case InputResize:
		if input.Resize == nil {
			return errors.New("missing resize input")
		}
		if input.Resize.Cols <= 0 || input.Resize.Rows <= 0 {
			return errors.New("invalid terminal size")
		}
		return term.Resize(input.Resize.Cols, input.Resize.Rows)

	case InputControl:
		var payload []byte
		switch input.Control {
		case ControlInterrupt:
			payload = []byte{0x03}
		case ControlEOF:
			payload = []byte{0x04}
		case ControlSuspend:
			payload = []byte{0x1a}
		default:
			return errors.New("unknown control signal")
		}
		_, err := term.Write(payload)
		return err

	default:
		return errors.New("unsupported input")
	}
}
