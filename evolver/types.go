// Package evolver implements the Evolver SysEx message set, a local mirror of
// the synth's memory and the replication engine that keeps the two in step.
package evolver

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"evolute/params"
	"evolute/sysex"
)

const (
	Banks           = 4
	WaveshapeCount  = 128
	WaveshapePoints = 128

	// programBytes is the unpacked size of a program or edit buffer dump.
	programBytes = params.ProgramCount + params.SequenceSteps
	// waveshapeBytes is the unpacked size of a waveshape dump.
	waveshapeBytes = WaveshapePoints * 2
)

// Selection addresses one stored program.
type Selection struct {
	Bank    uint8 `json:"bank"`
	Program uint8 `json:"program"`
}

// Valid reports whether the selection lies inside the 4x128 program grid.
func (s Selection) Valid() bool {
	return s.Bank < Banks && s.Program < params.ProgramCount
}

func (s Selection) validate() error {
	if !s.Valid() {
		return errors.Wrapf(sysex.ErrRange, "bank %d program %d", s.Bank, s.Program)
	}
	return nil
}

func (s Selection) String() string {
	return fmt.Sprintf("%d:%03d", s.Bank+1, int(s.Program)+1)
}

// Program is one sound: every program parameter by wire index plus the
// four 16-step sequencer tracks.
type Program struct {
	Params   [params.ProgramCount]byte
	Sequence [params.SequenceSteps]byte
}

// Get returns the value of a program or sequencer parameter.
func (p *Program) Get(id params.ID) (byte, bool) {
	if i, ok := params.ProgramIndex(id); ok {
		return p.Params[i], true
	}
	if i, ok := params.SequenceIndex(id); ok {
		return p.Sequence[i], true
	}
	return 0, false
}

// Set changes a program or sequencer parameter.
func (p *Program) Set(id params.ID, v byte) error {
	if i, ok := params.ProgramIndex(id); ok {
		p.Params[i] = v
		return nil
	}
	if i, ok := params.SequenceIndex(id); ok {
		p.Sequence[i] = v
		return nil
	}
	return errors.Errorf("unknown program parameter %q", id)
}

// serialize lays the program out in wire order: the program table followed
// by the sequencer steps.
func (p *Program) serialize() []byte {
	b := make([]byte, 0, programBytes)
	b = append(b, p.Params[:]...)
	return append(b, p.Sequence[:]...)
}

func deserializeProgram(b []byte) (Program, error) {
	var p Program
	if len(b) != programBytes {
		return p, errors.Wrapf(sysex.ErrUnrecognized, "program data is %d bytes, want %d", len(b), programBytes)
	}
	copy(p.Params[:], b[:params.ProgramCount])
	copy(p.Sequence[:], b[params.ProgramCount:])
	return p, nil
}

const sequenceKey = "seq"

// MarshalJSON writes the program as an object keyed by parameter id, with
// the sequencer under "seq".
func (p Program) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, params.ProgramCount+1)
	for i, id := range params.ProgramIDs() {
		m[string(id)] = p.Params[i]
	}
	seq := make([]int, len(p.Sequence))
	for i, v := range p.Sequence {
		seq[i] = int(v)
	}
	m[sequenceKey] = seq
	return json.Marshal(m)
}

// UnmarshalJSON reads the format written by MarshalJSON. Missing parameters
// are zero; unknown keys are an error.
func (p *Program) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Program
	for key, val := range raw {
		if key == sequenceKey {
			var seq []int
			if err := json.Unmarshal(val, &seq); err != nil {
				return errors.Wrap(err, "sequence")
			}
			if len(seq) > params.SequenceSteps {
				return errors.Wrapf(sysex.ErrRange, "sequence has %d steps, maximum is %d", len(seq), params.SequenceSteps)
			}
			for i, v := range seq {
				if v < 0 || v > 0xFF {
					return errors.Wrapf(sysex.ErrRange, "sequence step %d is %d", i, v)
				}
				out.Sequence[i] = byte(v)
			}
			continue
		}
		i, ok := params.ProgramIndex(params.ID(key))
		if !ok {
			return errors.Errorf("unknown program parameter %q", key)
		}
		if err := json.Unmarshal(val, &out.Params[i]); err != nil {
			return errors.Wrapf(err, "parameter %q", key)
		}
	}
	*p = out
	return nil
}

// Main holds the global settings by wire index.
type Main [params.MainCount]byte

// Get returns the value of a main parameter.
func (m *Main) Get(id params.ID) (byte, bool) {
	i, ok := params.MainIndex(id)
	if !ok {
		return 0, false
	}
	return m[i], true
}

// Selection returns the bank and program stored in the main parameters.
func (m *Main) Selection() Selection {
	return Selection{Bank: m[bankIndex], Program: m[programIndex]}
}

// validate checks the values that carry the current selection.
func (m *Main) validate() error {
	return m.Selection().validate()
}

// MarshalJSON writes the main parameters keyed by id.
func (m Main) MarshalJSON() ([]byte, error) {
	out := make(map[string]byte, params.MainCount)
	for i, id := range params.MainIDs() {
		out[string(id)] = m[i]
	}
	return json.Marshal(out)
}

var (
	programIndex = mustMainIndex(params.Program)
	bankIndex    = mustMainIndex(params.Bank)
)

func mustMainIndex(id params.ID) int {
	i, ok := params.MainIndex(id)
	if !ok {
		panic("evolver: main parameter " + string(id) + " missing")
	}
	return i
}

// Waveshape is one oscillator waveshape: 128 16-bit points.
type Waveshape [WaveshapePoints]uint16

func (w *Waveshape) serialize() []byte {
	b := make([]byte, 0, waveshapeBytes)
	for _, p := range w {
		b = append(b, byte(p), byte(p>>8))
	}
	return b
}

func deserializeWaveshape(b []byte) (Waveshape, error) {
	var w Waveshape
	if len(b) != waveshapeBytes {
		return w, errors.Wrapf(sysex.ErrUnrecognized, "waveshape data is %d bytes, want %d", len(b), waveshapeBytes)
	}
	for i := range w {
		w[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return w, nil
}
