package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"evolute/evolver"
	"evolute/sysex"
)

func program() evolver.Program {
	var p evolver.Program
	for i := range p.Params {
		p.Params[i] = byte(127 - i)
	}
	for i := range p.Sequence {
		p.Sequence[i] = byte(i * 2)
	}
	return p
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	p := program()
	if err := SaveJSON(&buf, p, "Pad 7"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"osc1_frequency": 127`) {
		t.Errorf("output is not keyed by parameter id:\n%s", buf.String())
	}
	got, name, err := LoadJSON(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != p || name != "Pad 7" {
		t.Errorf("LoadJSON = %v, %q", got, name)
	}
}

func TestJSONWithoutName(t *testing.T) {
	got, name, err := LoadJSON(strings.NewReader(`{"osc1_level": 99}`))
	if err != nil {
		t.Fatal(err)
	}
	if name != "" {
		t.Errorf("name = %q, want empty", name)
	}
	if v, _ := got.Get("osc1_level"); v != 99 {
		t.Errorf("osc1_level = %d, want 99", v)
	}
	if _, _, err := LoadJSON(strings.NewReader(`{"volume": 1}`)); err == nil {
		t.Errorf("unknown parameter accepted")
	}
}

func TestSysExRoundTrip(t *testing.T) {
	msgs := []evolver.Message{
		evolver.EditDump{Program: program()},
		evolver.ProgramDump{Selection: evolver.Selection{Bank: 2, Program: 9}, Program: program()},
		evolver.NameDump{Selection: evolver.Selection{Bank: 2, Program: 9}, Name: "Pad 7           "},
	}
	var buf bytes.Buffer
	if err := WriteSysEx(&buf, msgs...); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSysEx(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, msgs) {
		t.Errorf("ReadSysEx = %v, want %v", got, msgs)
	}
}

func TestReadSysExSkipsForeign(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0xF0, 0x43, 0x10, 0x4C, 0xF7, 0x12})
	if err := WriteSysEx(&buf, evolver.MainRequest{}); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSysEx(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != (evolver.MainRequest{}) {
		t.Errorf("ReadSysEx = %v, want one main request", got)
	}
}

func TestReadSysExMalformed(t *testing.T) {
	tests := map[string][]byte{
		"unterminated": {0xF0, 0x01, 0x20, 0x01, 0x06},
		"bad length":   {0xF0, 0x01, 0x20, 0x01, 0x06, 0x00, 0xF7},
		"status byte":  {0xF0, 0x01, 0x20, 0x90, 0x06, 0xF7},
	}
	for name, data := range tests {
		if _, err := ReadSysEx(bytes.NewReader(data)); !errors.Is(err, sysex.ErrUnrecognized) {
			t.Errorf("%s: err = %v, want ErrUnrecognized", name, err)
		}
	}
}

func TestWaveshapeRoundTrip(t *testing.T) {
	var w evolver.Waveshape
	for i := range w {
		w[i] = uint16(i * 512)
	}
	w[0], w[1] = 0x8000, 0xFFFF

	path := filepath.Join(t.TempDir(), "shape.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveWaveshape(f, w); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f, err = os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := LoadWaveshape(f)
	if err != nil {
		t.Fatal(err)
	}
	if got != w {
		t.Errorf("LoadWaveshape = %v, want %v", got, w)
	}
}

func TestLoadWaveshapeInvalid(t *testing.T) {
	if _, err := LoadWaveshape(bytes.NewReader([]byte("not a wav file"))); err == nil {
		t.Errorf("garbage accepted")
	}
}
