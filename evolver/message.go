package evolver

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"

	"evolute/params"
	"evolute/sysex"
)

// Prefix identifies Evolver SysEx: manufacturer, device, file version.
var Prefix = []byte{0x01, 0x20, 0x01}

// Kind is the identifier byte that follows Prefix.
type Kind byte

const (
	KindProgramParameter Kind = 0x01
	KindProgramDump      Kind = 0x02
	KindEditDump         Kind = 0x03
	KindReset            Kind = 0x04
	KindProgramRequest   Kind = 0x05
	KindEditRequest      Kind = 0x06
	KindSequencerStep    Kind = 0x08
	KindMainParameter    Kind = 0x09
	KindWaveshapeDump    Kind = 0x0A
	KindWaveshapeRequest Kind = 0x0B
	KindMainRequest      Kind = 0x0E
	KindMainDump         Kind = 0x0F
	KindNameRequest      Kind = 0x10
	KindNameDump         Kind = 0x11
	KindStartStop        Kind = 0x12
	KindShiftOn          Kind = 0x13
	KindShiftOff         Kind = 0x14
)

var kindNames = map[Kind]string{
	KindProgramParameter: "program parameter",
	KindProgramDump:      "program dump",
	KindEditDump:         "edit buffer dump",
	KindReset:            "reset",
	KindProgramRequest:   "program request",
	KindEditRequest:      "edit buffer request",
	KindSequencerStep:    "sequencer step",
	KindMainParameter:    "main parameter",
	KindWaveshapeDump:    "waveshape dump",
	KindWaveshapeRequest: "waveshape request",
	KindMainRequest:      "main request",
	KindMainDump:         "main dump",
	KindNameRequest:      "name request",
	KindNameDump:         "name dump",
	KindStartStop:        "start/stop",
	KindShiftOn:          "shift on",
	KindShiftOff:         "shift off",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind 0x%02X", byte(k))
}

// Payload sizes after the identifier byte.
var (
	packedProgramLen   = sysex.PackedLen(programBytes)   // 220
	packedWaveshapeLen = sysex.PackedLen(waveshapeBytes) // 293
	mainDumpLen        = params.MainCount * 2            // 32
)

// Message is one Evolver SysEx message. The set of implementations is
// closed: one type per identifier byte.
type Message interface {
	Kind() Kind
	appendPayload(b []byte) ([]byte, error)
}

// ProgramDump carries a stored program.
type ProgramDump struct {
	Selection Selection
	Program   Program
}

// EditDump carries the edit buffer.
type EditDump struct {
	Program Program
}

// WaveshapeDump carries one waveshape.
type WaveshapeDump struct {
	Index uint8
	Shape Waveshape
}

// MainDump carries the global settings.
type MainDump struct {
	Main Main
}

// NameDump carries the name of a stored program.
type NameDump struct {
	Selection
	Name string
}

type ProgramRequest struct{ Selection }

type EditRequest struct{}

type WaveshapeRequest struct{ Index uint8 }

type MainRequest struct{}

type NameRequest struct{ Selection }

// ProgramParameter changes one edit buffer parameter.
type ProgramParameter struct {
	Index uint8
	Value uint8
}

// SequencerStep changes one step of the edit buffer sequencer.
type SequencerStep struct {
	Step  uint8
	Value uint8
}

// MainParameter changes one global setting.
type MainParameter struct {
	Index uint8
	Value uint8
}

// Command is a payload-less front panel command.
type Command Kind

const (
	Reset     = Command(KindReset)
	StartStop = Command(KindStartStop)
	ShiftOn   = Command(KindShiftOn)
	ShiftOff  = Command(KindShiftOff)
)

func (ProgramDump) Kind() Kind      { return KindProgramDump }
func (EditDump) Kind() Kind         { return KindEditDump }
func (WaveshapeDump) Kind() Kind    { return KindWaveshapeDump }
func (MainDump) Kind() Kind         { return KindMainDump }
func (NameDump) Kind() Kind         { return KindNameDump }
func (ProgramRequest) Kind() Kind   { return KindProgramRequest }
func (EditRequest) Kind() Kind      { return KindEditRequest }
func (WaveshapeRequest) Kind() Kind { return KindWaveshapeRequest }
func (MainRequest) Kind() Kind      { return KindMainRequest }
func (NameRequest) Kind() Kind      { return KindNameRequest }
func (ProgramParameter) Kind() Kind { return KindProgramParameter }
func (SequencerStep) Kind() Kind    { return KindSequencerStep }
func (MainParameter) Kind() Kind    { return KindMainParameter }
func (c Command) Kind() Kind        { return Kind(c) }

func (m ProgramDump) appendPayload(b []byte) ([]byte, error) {
	if err := m.Selection.validate(); err != nil {
		return nil, err
	}
	b = append(b, m.Selection.Bank, m.Selection.Program)
	return append(b, sysex.Pack(m.Program.serialize())...), nil
}

func (m EditDump) appendPayload(b []byte) ([]byte, error) {
	return append(b, sysex.Pack(m.Program.serialize())...), nil
}

func (m WaveshapeDump) appendPayload(b []byte) ([]byte, error) {
	if m.Index >= WaveshapeCount {
		return nil, errors.Wrapf(sysex.ErrRange, "waveshape %d", m.Index)
	}
	b = append(b, m.Index)
	return append(b, sysex.Pack(m.Shape.serialize())...), nil
}

func (m MainDump) appendPayload(b []byte) ([]byte, error) {
	return sysex.AppendNibbles(b, m.Main[:]), nil
}

func (m NameDump) appendPayload(b []byte) ([]byte, error) {
	if err := m.Selection.validate(); err != nil {
		return nil, err
	}
	name, err := sysex.EncodeName(m.Name)
	if err != nil {
		return nil, err
	}
	b = append(b, m.Bank, m.Program)
	return append(b, name[:]...), nil
}

func (m ProgramRequest) appendPayload(b []byte) ([]byte, error) {
	if err := m.Selection.validate(); err != nil {
		return nil, err
	}
	return append(b, m.Bank, m.Program), nil
}

func (EditRequest) appendPayload(b []byte) ([]byte, error) { return b, nil }

func (m WaveshapeRequest) appendPayload(b []byte) ([]byte, error) {
	if m.Index >= WaveshapeCount {
		return nil, errors.Wrapf(sysex.ErrRange, "waveshape %d", m.Index)
	}
	return append(b, m.Index), nil
}

func (MainRequest) appendPayload(b []byte) ([]byte, error) { return b, nil }

func (m NameRequest) appendPayload(b []byte) ([]byte, error) {
	if err := m.Selection.validate(); err != nil {
		return nil, err
	}
	return append(b, m.Bank, m.Program), nil
}

func (m ProgramParameter) appendPayload(b []byte) ([]byte, error) {
	return appendUpdate(b, m.Index, params.ProgramCount, m.Value)
}

func (m SequencerStep) appendPayload(b []byte) ([]byte, error) {
	return appendUpdate(b, m.Step, params.SequenceSteps, m.Value)
}

func (m MainParameter) appendPayload(b []byte) ([]byte, error) {
	return appendUpdate(b, m.Index, params.MainCount, m.Value)
}

func (c Command) appendPayload(b []byte) ([]byte, error) {
	switch Kind(c) {
	case KindReset, KindStartStop, KindShiftOn, KindShiftOff:
		return b, nil
	}
	return nil, errors.Wrapf(sysex.ErrUnrecognized, "%s is not a command", Kind(c))
}

func appendUpdate(b []byte, index uint8, count int, value uint8) ([]byte, error) {
	if int(index) >= count {
		return nil, errors.Wrapf(sysex.ErrRange, "index %d, want below %d", index, count)
	}
	lo, hi := sysex.EncodeNibbles(value)
	return append(b, index, lo, hi), nil
}

// Marshal returns the message body: Prefix, identifier, payload. The SysEx
// start and end bytes are not included.
func Marshal(m Message) ([]byte, error) {
	b := make([]byte, 0, len(Prefix)+1+packedWaveshapeLen+1)
	b = append(b, Prefix...)
	b = append(b, byte(m.Kind()))
	b, err := m.appendPayload(b)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", m.Kind())
	}
	return b, nil
}

// Frame marshals m into a complete F0 ... F7 MIDI message.
func Frame(m Message) (midi.Message, error) {
	body, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	return midi.SysEx(body), nil
}

// Unframe decodes a complete MIDI SysEx message.
func Unframe(msg midi.Message) (Message, error) {
	var body []byte
	if !msg.GetSysEx(&body) {
		return nil, errors.Wrap(sysex.ErrUnrecognized, "not a sysex message")
	}
	return Unmarshal(body)
}

// Unmarshal decodes a message body as produced by Marshal.
func Unmarshal(body []byte) (Message, error) {
	if !bytes.HasPrefix(body, Prefix) {
		return nil, errors.Wrap(sysex.ErrUnrecognized, "foreign sysex prefix")
	}
	if len(body) == len(Prefix) {
		return nil, errors.Wrap(sysex.ErrUnrecognized, "missing identifier")
	}
	kind := Kind(body[len(Prefix)])
	payload := body[len(Prefix)+1:]

	m, err := decode(kind, payload)
	if err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s", kind)
	}
	return m, nil
}

func decode(kind Kind, p []byte) (Message, error) {
	switch kind {
	case KindProgramDump:
		if err := expectLen(p, 2+packedProgramLen); err != nil {
			return nil, err
		}
		sel, err := decodeSelection(p)
		if err != nil {
			return nil, err
		}
		prog, err := deserializeProgram(sysex.Unpack(p[2:]))
		if err != nil {
			return nil, err
		}
		return ProgramDump{Selection: sel, Program: prog}, nil

	case KindEditDump:
		if err := expectLen(p, packedProgramLen); err != nil {
			return nil, err
		}
		prog, err := deserializeProgram(sysex.Unpack(p))
		if err != nil {
			return nil, err
		}
		return EditDump{Program: prog}, nil

	case KindWaveshapeDump:
		if err := expectLen(p, 1+packedWaveshapeLen); err != nil {
			return nil, err
		}
		if p[0] >= WaveshapeCount {
			return nil, errors.Wrapf(sysex.ErrRange, "waveshape %d", p[0])
		}
		shape, err := deserializeWaveshape(sysex.Unpack(p[1:]))
		if err != nil {
			return nil, err
		}
		return WaveshapeDump{Index: p[0], Shape: shape}, nil

	case KindMainDump:
		if err := expectLen(p, mainDumpLen); err != nil {
			return nil, err
		}
		values, err := sysex.DecodeNibbleStream(p)
		if err != nil {
			return nil, err
		}
		var m Main
		copy(m[:], values)
		if err := m.validate(); err != nil {
			return nil, err
		}
		return MainDump{Main: m}, nil

	case KindNameDump:
		if err := expectLen(p, 2+sysex.NameLen); err != nil {
			return nil, err
		}
		sel, err := decodeSelection(p)
		if err != nil {
			return nil, err
		}
		return NameDump{Selection: sel, Name: sysex.DecodeName(p[2:])}, nil

	case KindProgramRequest, KindNameRequest:
		if err := expectLen(p, 2); err != nil {
			return nil, err
		}
		sel, err := decodeSelection(p)
		if err != nil {
			return nil, err
		}
		if kind == KindNameRequest {
			return NameRequest{sel}, nil
		}
		return ProgramRequest{sel}, nil

	case KindWaveshapeRequest:
		if err := expectLen(p, 1); err != nil {
			return nil, err
		}
		if p[0] >= WaveshapeCount {
			return nil, errors.Wrapf(sysex.ErrRange, "waveshape %d", p[0])
		}
		return WaveshapeRequest{Index: p[0]}, nil

	case KindEditRequest, KindMainRequest, KindReset, KindStartStop, KindShiftOn, KindShiftOff:
		if err := expectLen(p, 0); err != nil {
			return nil, err
		}
		switch kind {
		case KindEditRequest:
			return EditRequest{}, nil
		case KindMainRequest:
			return MainRequest{}, nil
		}
		return Command(kind), nil

	case KindProgramParameter, KindSequencerStep, KindMainParameter:
		if err := expectLen(p, 3); err != nil {
			return nil, err
		}
		v, err := sysex.DecodeNibbles(p[1], p[2])
		if err != nil {
			return nil, err
		}
		switch kind {
		case KindProgramParameter:
			if int(p[0]) >= params.ProgramCount {
				return nil, errors.Wrapf(sysex.ErrRange, "program parameter %d", p[0])
			}
			return ProgramParameter{Index: p[0], Value: v}, nil
		case KindSequencerStep:
			if int(p[0]) >= params.SequenceSteps {
				return nil, errors.Wrapf(sysex.ErrRange, "sequencer step %d", p[0])
			}
			return SequencerStep{Step: p[0], Value: v}, nil
		}
		if int(p[0]) >= params.MainCount {
			return nil, errors.Wrapf(sysex.ErrRange, "main parameter %d", p[0])
		}
		return MainParameter{Index: p[0], Value: v}, nil
	}
	return nil, sysex.ErrUnrecognized
}

func expectLen(p []byte, n int) error {
	if len(p) != n {
		return errors.Wrapf(sysex.ErrUnrecognized, "payload is %d bytes, want %d", len(p), n)
	}
	return nil
}

func decodeSelection(p []byte) (Selection, error) {
	sel := Selection{Bank: p[0], Program: p[1]}
	return sel, sel.validate()
}
