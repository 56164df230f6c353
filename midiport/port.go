// Package midiport opens the synth's MIDI ports by name.
package midiport

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"
)

// sysExBufferSize holds the largest Evolver dump (waveshape, 300 bytes)
// with room to spare.
const sysExBufferSize = 4096

// ErrNotFound is returned when no port matches a name prefix.
var ErrNotFound = errors.New("no matching MIDI port")

// Handler receives every inbound message, on the driver's goroutine.
type Handler func(msg midi.Message)

func find[P interface{ String() string }](ports []P, prefix string) (P, bool) {
	lower := strings.ToLower(prefix)
	for _, p := range ports {
		if strings.HasPrefix(strings.ToLower(p.String()), lower) {
			return p, true
		}
	}
	var zero P
	return zero, false
}

// FindIn returns the first input port whose name starts with prefix,
// ignoring case.
func FindIn(prefix string) (drivers.In, error) {
	ins := midi.GetInPorts()
	if len(ins) == 0 {
		return nil, errors.Wrap(ErrNotFound, "no MIDI inputs available")
	}
	in, ok := find([]drivers.In(ins), prefix)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "no MIDI input starts with %q", prefix)
	}
	return in, nil
}

// FindOut returns the first output port whose name starts with prefix,
// ignoring case.
func FindOut(prefix string) (drivers.Out, error) {
	outs := midi.GetOutPorts()
	if len(outs) == 0 {
		return nil, errors.Wrap(ErrNotFound, "no MIDI outputs available")
	}
	out, ok := find([]drivers.Out(outs), prefix)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "no MIDI output starts with %q", prefix)
	}
	return out, nil
}

// Names lists the available ports, inputs first.
func Names() (ins, outs []string) {
	for _, in := range midi.GetInPorts() {
		ins = append(ins, in.String())
	}
	for _, out := range midi.GetOutPorts() {
		outs = append(outs, out.String())
	}
	return ins, outs
}

// Port is an open input/output pair.
type Port struct {
	log  *zap.Logger
	in   drivers.In
	out  drivers.Out
	stop func()

	mu sync.Mutex
}

// Open finds and opens both ports and starts delivering inbound messages,
// SysEx included, to h.
func Open(inPrefix, outPrefix string, h Handler, log *zap.Logger) (*Port, error) {
	in, err := FindIn(inPrefix)
	if err != nil {
		return nil, err
	}
	out, err := FindOut(outPrefix)
	if err != nil {
		return nil, err
	}
	if err := out.Open(); err != nil {
		return nil, errors.Wrapf(err, "open %s", out)
	}

	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		h(msg)
	}, midi.UseSysEx(), midi.SysExBufferSize(sysExBufferSize), midi.HandleError(func(err error) {
		log.Warn("midi input error", zap.Error(err))
	}))
	if err != nil {
		_ = out.Close()
		return nil, errors.Wrapf(err, "listen on %s", in)
	}

	log.Info("opened midi ports", zap.Stringer("in", in), zap.Stringer("out", out))
	return &Port{log: log, in: in, out: out, stop: stop}, nil
}

// Send transmits one complete message.
func (p *Port) Send(msg midi.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.out.IsOpen() {
		if err := p.out.Open(); err != nil {
			return err
		}
	}
	return p.out.Send(msg.Bytes())
}

// Close stops listening and closes both ports and the driver.
func (p *Port) Close() {
	p.stop()
	p.mu.Lock()
	_ = p.out.Close()
	p.mu.Unlock()
	drivers.Close()
	p.log.Info("closed midi ports")
}
