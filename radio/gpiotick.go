package radio

import (
	"github.com/warthog618/go-gpiocdev"

	"github.com/doismellburning/tsch/tsch"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Decorator that drives a debug GPIO line high while the
 *		radio is on, for scoping slot timing against real hardware.
 *
 * Description:	Wraps any Radio and toggles one gpiocdev output line
 *		high across On()/Off(), giving an oscilloscope/logic
 *		analyzer a square wave tracking actual radio-on windows.
 *		No equivalent exists in the teacher (an audio-modem TNC has
 *		no slot concept); grounded only on warthog618/go-gpiocdev's
 *		request/SetValue API as declared in the teacher's go.mod.
 *
 *------------------------------------------------------------------*/

// GPIOTick wraps a Radio and mirrors On/Off onto a GPIO line.
type GPIOTick struct {
	tsch.Radio
	line *gpiocdev.Line
}

// NewGPIOTick opens offset on chip (e.g. "gpiochip0") as an output and
// wraps inner so every On/Off call also drives the line.
func NewGPIOTick(inner tsch.Radio, chip string, offset int) (*GPIOTick, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &GPIOTick{Radio: inner, line: line}, nil
}

func (g *GPIOTick) On() {
	_ = g.line.SetValue(1)
	g.Radio.On()
}

func (g *GPIOTick) Off() {
	g.Radio.Off()
	_ = g.line.SetValue(0)
}

// Close releases the GPIO line. It does not close the wrapped Radio.
func (g *GPIOTick) Close() error {
	return g.line.Close()
}

var _ tsch.Radio = (*GPIOTick)(nil)
