package export

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"

	"evolute/evolver"
	"evolute/sysex"
)

const (
	sysExStart = 0xF0
	sysExEnd   = 0xF7
)

// WriteSysEx writes msgs as consecutive F0 ... F7 frames.
func WriteSysEx(w io.Writer, msgs ...evolver.Message) error {
	for _, m := range msgs {
		msg, err := evolver.Frame(m)
		if err != nil {
			return err
		}
		if _, err := w.Write(msg.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// ReadSysEx decodes every Evolver frame in r. Bytes between frames and
// frames for other devices are skipped.
func ReadSysEx(r io.Reader) ([]evolver.Message, error) {
	var (
		msgs   []evolver.Message
		reader = bufio.NewReader(r)
	)
	for n := 0; ; n++ {
		if _, err := reader.ReadBytes(sysExStart); err != nil {
			if err == io.EOF {
				return msgs, nil
			}
			return nil, err
		}
		frame, err := reader.ReadBytes(sysExEnd)
		if err != nil {
			if err == io.EOF {
				return nil, errors.Wrapf(sysex.ErrUnrecognized, "frame %d: missing end of sysex", n)
			}
			return nil, err
		}
		body := frame[:len(frame)-1]
		for i, b := range body {
			if b > 0x7F {
				return nil, errors.Wrapf(sysex.ErrUnrecognized, "frame %d: status byte 0x%02X inside sysex at offset %d", n, b, i)
			}
		}
		if !bytes.HasPrefix(body, evolver.Prefix) {
			continue
		}
		m, err := evolver.Unmarshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", n)
		}
		msgs = append(msgs, m)
	}
}
