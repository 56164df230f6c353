// Package export reads and writes programs and waveshapes as files: JSON
// for editing by hand, .syx for other librarians and WAV for waveshapes.
package export

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"evolute/evolver"
)

const nameKey = "name"

// SaveJSON writes p as an indented JSON object keyed by parameter id. A
// non-empty name is stored under "name".
func SaveJSON(w io.Writer, p evolver.Program, name string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if name != "" {
		if obj[nameKey], err = json.Marshal(name); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(obj)
}

// LoadJSON reads a program written by SaveJSON.
func LoadJSON(r io.Reader) (evolver.Program, string, error) {
	var (
		p    evolver.Program
		name string
		obj  map[string]json.RawMessage
	)
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return p, "", errors.Wrap(err, "decode program")
	}
	if raw, ok := obj[nameKey]; ok {
		if err := json.Unmarshal(raw, &name); err != nil {
			return p, "", errors.Wrap(err, "decode name")
		}
		delete(obj, nameKey)
	}
	rest, err := json.Marshal(obj)
	if err != nil {
		return p, "", err
	}
	if err := p.UnmarshalJSON(rest); err != nil {
		return p, "", err
	}
	return p, name, nil
}
