package evolver

import (
	"sync"

	"github.com/pkg/errors"

	"evolute/params"
	"evolute/sysex"
)

// UnknownName is the name of a program cell nothing has been received for.
const UnknownName = "unknown         "

// Cell is one slot of the program matrix.
type Cell struct {
	// Program is nil until the slot is dumped or archived.
	Program *Program `json:"program,omitempty"`
	Name    string   `json:"name"`
}

// Memory mirrors the synth: global settings, the edit buffer, the 4x128
// program matrix and the waveshape table. It is safe for concurrent use;
// every getter returns a copy.
type Memory struct {
	mu       sync.RWMutex
	main     Main
	selected bool
	edit     Program
	matrix   [Banks][params.ProgramCount]Cell
	waves    [WaveshapeCount]*Waveshape
}

func NewMemory() *Memory {
	m := &Memory{}
	for b := range m.matrix {
		for p := range m.matrix[b] {
			m.matrix[b][p].Name = UnknownName
		}
	}
	return m
}

// Main returns the global settings.
func (m *Memory) Main() Main {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.main
}

// SetMain replaces the global settings. The bank and program they carry
// become the known selection.
func (m *Memory) SetMain(v Main) error {
	if err := v.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.main = v
	m.selected = true
	return nil
}

// SetMainValue changes one global setting by wire index.
func (m *Memory) SetMainValue(i int, v byte) error {
	if i < 0 || i >= params.MainCount {
		return errors.Wrapf(sysex.ErrRange, "main parameter %d", i)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.main
	next[i] = v
	if i == bankIndex || i == programIndex {
		if err := next.validate(); err != nil {
			return err
		}
		m.selected = true
	}
	m.main = next
	return nil
}

// Selection returns the bank and program the synth last reported. ok is
// false until the first main dump or program change arrives.
func (m *Memory) Selection() (sel Selection, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.main.Selection(), m.selected
}

// Select records a new current bank and program.
func (m *Memory) Select(sel Selection) error {
	if err := sel.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.main[bankIndex] = sel.Bank
	m.main[programIndex] = sel.Program
	m.selected = true
	return nil
}

// SelectBank changes only the current bank.
func (m *Memory) SelectBank(bank uint8) error {
	return m.SetMainValue(bankIndex, bank)
}

// SelectProgram changes only the current program.
func (m *Memory) SelectProgram(program uint8) error {
	return m.SetMainValue(programIndex, program)
}

// Edit returns the edit buffer.
func (m *Memory) Edit() Program {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edit
}

// SetEdit replaces the edit buffer.
func (m *Memory) SetEdit(p Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edit = p
}

// SetEditValue changes one edit buffer parameter by wire index.
func (m *Memory) SetEditValue(i int, v byte) error {
	if i < 0 || i >= params.ProgramCount {
		return errors.Wrapf(sysex.ErrRange, "program parameter %d", i)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edit.Params[i] = v
	return nil
}

// SetSequenceStep changes one sequencer step of the edit buffer.
func (m *Memory) SetSequenceStep(step int, v byte) error {
	if step < 0 || step >= params.SequenceSteps {
		return errors.Wrapf(sysex.ErrRange, "sequencer step %d", step)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edit.Sequence[step] = v
	return nil
}

// Cell returns a copy of one program matrix slot.
func (m *Memory) Cell(sel Selection) (Cell, error) {
	if err := sel.validate(); err != nil {
		return Cell{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.matrix[sel.Bank][sel.Program]
	if c.Program != nil {
		p := *c.Program
		c.Program = &p
	}
	return c, nil
}

// StoreProgram puts a program into the matrix.
func (m *Memory) StoreProgram(sel Selection, p Program) error {
	if err := sel.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matrix[sel.Bank][sel.Program].Program = &p
	return nil
}

// SetName records the name of a stored program.
func (m *Memory) SetName(sel Selection, name string) error {
	if err := sel.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matrix[sel.Bank][sel.Program].Name = name
	return nil
}

// Archive copies the edit buffer into the matrix slot sel.
func (m *Memory) Archive(sel Selection) error {
	if err := sel.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.edit
	m.matrix[sel.Bank][sel.Program].Program = &p
	return nil
}

// Waveshape returns waveshape n, if it has been received.
func (m *Memory) Waveshape(n int) (Waveshape, bool) {
	if n < 0 || n >= WaveshapeCount {
		return Waveshape{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.waves[n] == nil {
		return Waveshape{}, false
	}
	return *m.waves[n], true
}

// SetWaveshape stores waveshape n.
func (m *Memory) SetWaveshape(n int, w Waveshape) error {
	if n < 0 || n >= WaveshapeCount {
		return errors.Wrapf(sysex.ErrRange, "waveshape %d", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waves[n] = &w
	return nil
}
