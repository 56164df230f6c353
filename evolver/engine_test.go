package evolver

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"evolute/params"
)

type recorder struct {
	mu   sync.Mutex
	sent []midi.Message
	at   []time.Time
	fail error
}

func (r *recorder) Send(msg midi.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, msg)
	r.at = append(r.at, time.Now())
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newTestEngine(opts Options) *Engine {
	return NewEngine(NewMemory(), opts, zap.NewNop())
}

// drain returns the queued messages, decoded where they are SysEx.
func drain(t *testing.T, e *Engine) []any {
	t.Helper()
	var out []any
	for {
		select {
		case msg := <-e.queue:
			if m, err := Unframe(msg); err == nil {
				out = append(out, m)
			} else {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

func sysexMsg(t *testing.T, m Message) midi.Message {
	t.Helper()
	msg, err := Frame(m)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestEngineStart(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	if e.State() != Idle {
		t.Fatalf("state = %v, want idle", e.State())
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	got := drain(t, e)
	if len(got) != 1 || got[0] != (MainRequest{}) {
		t.Errorf("queued %v, want one main request", got)
	}
}

func TestEngineMainDumpStartsResync(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	var main Main
	main[0] = 17
	main[1] = 2
	e.Receive(sysexMsg(t, MainDump{Main: main}))
	if e.State() != Idle || e.Pending() != 0 {
		t.Fatalf("main dump acted before the pump cycle: %v, %d queued", e.State(), e.Pending())
	}
	e.Observe()

	if e.State() != Resyncing {
		t.Fatalf("state = %v, want resyncing", e.State())
	}
	sel, ok := e.Selection()
	if want := (Selection{Bank: 2, Program: 17}); !ok || sel != want {
		t.Errorf("Selection = %v, %v; want %v", sel, ok, want)
	}
	got := drain(t, e)
	want := []any{EditRequest{}, NameRequest{Selection{Bank: 2, Program: 17}}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("queued %v, want %v", got, want)
	}
	// nothing was known before, so nothing is archived
	for b := uint8(0); b < Banks; b++ {
		c, _ := e.Memory().Cell(Selection{Bank: b, Program: 0})
		if c.Program != nil {
			t.Errorf("bank %d program 0 archived without a prior selection", b)
		}
	}
}

func TestEngineProgramDump(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	body := append([]byte{0x01, 0x20, 0x01, 0x02, 0x01, 0x05}, make([]byte, 220)...)
	e.Receive(midi.SysEx(body))

	c, err := e.Memory().Cell(Selection{Bank: 1, Program: 5})
	if err != nil {
		t.Fatal(err)
	}
	if c.Program == nil || *c.Program != (Program{}) {
		t.Errorf("cell (1,5) = %+v, want an all-zero program", c.Program)
	}
	if e.State() != Idle {
		t.Errorf("program dump changed state to %v", e.State())
	}
}

func TestEngineMainParameter(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	e.Receive(midi.SysEx([]byte{0x01, 0x20, 0x01, 0x09, 0x00, 0x03, 0x01}))

	main := e.Memory().Main()
	if main[0] != 19 {
		t.Errorf("main[0] = %d, want 19", main[0])
	}
	for i := 1; i < len(main); i++ {
		if main[i] != 0 {
			t.Errorf("main[%d] = %d, want 0", i, main[i])
		}
	}
}

func TestEngineProgramChangeResync(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	e.Receive(midi.ProgramChange(0, 10))
	e.Observe()
	if e.State() != Resyncing {
		t.Fatalf("state = %v, want resyncing", e.State())
	}
	drain(t, e)

	first := testProgram()
	e.Receive(sysexMsg(t, EditDump{Program: first}))
	if e.State() != Synced {
		t.Fatalf("state = %v after edit dump, want synced", e.State())
	}

	e.Receive(midi.ProgramChange(0, 11))
	e.Observe()
	if e.State() != Resyncing {
		t.Fatalf("state = %v, want resyncing", e.State())
	}
	c, _ := e.Memory().Cell(Selection{Program: 10})
	if c.Program == nil || *c.Program != first {
		t.Errorf("edit buffer not archived into bank 1 program 11")
	}
	got := drain(t, e)
	want := []any{EditRequest{}, NameRequest{Selection{Program: 11}}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("queued %v, want %v", got, want)
	}
}

func TestEngineObserveIdempotent(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	e.Receive(midi.ProgramChange(0, 3))
	for i := 0; i < 5; i++ {
		e.Observe()
	}
	e.Receive(midi.ProgramChange(0, 3))
	e.Observe()
	if n := e.Pending(); n != 2 {
		t.Errorf("%d messages queued, want one edit and one name request", n)
	}
}

func TestEngineSingleParameterKeepsState(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	e.Receive(midi.ProgramChange(0, 3))
	e.Observe()
	e.Receive(sysexMsg(t, EditDump{}))
	e.Receive(sysexMsg(t, ProgramParameter{Index: 4, Value: 200}))
	e.Receive(sysexMsg(t, SequencerStep{Step: 2, Value: 9}))

	if e.State() != Synced {
		t.Errorf("state = %v, want synced", e.State())
	}
	edit := e.Memory().Edit()
	if edit.Params[4] != 200 || edit.Sequence[2] != 9 {
		t.Errorf("updates not applied: param 4 = %d, step 2 = %d", edit.Params[4], edit.Sequence[2])
	}
}

func TestEngineIgnores(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	e.Receive(midi.ProgramChange(1, 3))
	e.Receive(midi.ControlChange(0, 0x07, 100))
	e.Receive(midi.ControlChange(0, BankSelect, 4))
	e.Receive(midi.NoteOn(0, 60, 100))
	e.Receive(midi.SysEx([]byte{0x43, 0x10, 0x00}))
	e.Receive(midi.SysEx([]byte{0x01, 0x20, 0x01, 0x03, 0x00}))
	e.Observe()

	if _, ok := e.Memory().Selection(); ok {
		t.Errorf("ignored messages made the selection known")
	}
	if e.State() != Idle || e.Pending() != 0 {
		t.Errorf("state %v with %d queued, want idle and empty", e.State(), e.Pending())
	}
}

func TestEngineBankChange(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	e.Receive(midi.ControlChange(0, BankSelect, 3))
	e.Observe()
	sel, ok := e.Selection()
	if !ok || sel != (Selection{Bank: 3}) {
		t.Errorf("Selection = %v, %v; want bank 4 program 1", sel, ok)
	}
}

func TestEngineBankThenProgramChange(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	e.Receive(midi.ProgramChange(0, 10))
	e.Observe()
	synced := testProgram()
	e.Receive(sysexMsg(t, EditDump{Program: synced}))
	drain(t, e)

	var stored Program
	stored.Params[0] = 77
	e.Receive(sysexMsg(t, ProgramDump{Selection: Selection{Bank: 1, Program: 10}, Program: stored}))

	// one front panel switch to bank 2 program 21
	e.Receive(midi.ControlChange(0, BankSelect, 1))
	e.Receive(midi.ProgramChange(0, 20))
	e.Observe()

	c, _ := e.Memory().Cell(Selection{Bank: 1, Program: 10})
	if c.Program == nil || c.Program.Params[0] != 77 {
		t.Errorf("bank 2 program 11 overwritten: %+v", c.Program)
	}
	c, _ = e.Memory().Cell(Selection{Program: 10})
	if c.Program == nil || *c.Program != synced {
		t.Errorf("edit buffer not archived into bank 1 program 11")
	}
	got := drain(t, e)
	want := []any{EditRequest{}, NameRequest{Selection{Bank: 1, Program: 20}}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("queued %v, want %v", got, want)
	}
}

func TestEngineNoArchiveWhileResyncing(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	e.Receive(midi.ProgramChange(0, 1))
	e.Observe()
	e.Memory().SetEdit(testProgram())

	e.Receive(midi.ProgramChange(0, 2))
	e.Observe()
	if c, _ := e.Memory().Cell(Selection{Program: 1}); c.Program != nil {
		t.Errorf("unsynced edit buffer archived into bank 1 program 2")
	}
	if e.State() != Resyncing {
		t.Errorf("state = %v, want resyncing", e.State())
	}
	if sel, _ := e.Selection(); sel != (Selection{Program: 2}) {
		t.Errorf("Selection = %v, want bank 1 program 3", sel)
	}
}

func TestEngineMinInterval(t *testing.T) {
	e := newTestEngine(Options{Interval: time.Millisecond, QueueSize: 4})
	if e.opts.Interval != MinInterval {
		t.Errorf("interval = %v, want %v", e.opts.Interval, MinInterval)
	}
	e = newTestEngine(Options{Interval: 250 * time.Millisecond, QueueSize: 4})
	if e.opts.Interval != 250*time.Millisecond {
		t.Errorf("interval = %v, want 250ms", e.opts.Interval)
	}
}

func TestEngineQueueFull(t *testing.T) {
	e := newTestEngine(Options{Interval: time.Millisecond, QueueSize: 2})
	for i := 0; i < 2; i++ {
		if err := e.RequestMain(); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.RequestEdit(); !errors.Is(err, ErrQueueFull) {
		t.Errorf("third enqueue = %v, want ErrQueueFull", err)
	}
	if n := e.Pending(); n != 2 {
		t.Errorf("%d queued, want 2", n)
	}
}

func TestEngineStepSendsOne(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	r := &recorder{}
	for i := uint8(0); i < 3; i++ {
		if err := e.RequestWaveshape(i); err != nil {
			t.Fatal(err)
		}
	}
	for i := 1; i <= 3; i++ {
		if err := e.step(r); err != nil {
			t.Fatal(err)
		}
		if r.count() != i {
			t.Fatalf("after %d steps %d sent", i, r.count())
		}
	}
	if err := e.step(r); err != nil || r.count() != 3 {
		t.Errorf("step on empty queue: err %v, %d sent", err, r.count())
	}

	r.fail = errors.New("port closed")
	if err := e.RequestMain(); err != nil {
		t.Fatal(err)
	}
	if err := e.step(r); err == nil {
		t.Errorf("transport error not reported")
	}
}

func TestEngineRunThrottles(t *testing.T) {
	const interval = MinInterval
	e := newTestEngine(Options{Interval: interval, QueueSize: 16})
	r := &recorder{}
	const n = 4
	for i := 0; i < n; i++ {
		if err := e.RequestName(Selection{Program: uint8(i)}); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, r) }()

	deadline := time.After(5 * time.Second)
	for r.count() < n {
		select {
		case <-deadline:
			t.Fatalf("only %d of %d messages sent", r.count(), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil on cancel", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if span := r.at[n-1].Sub(r.at[0]); span < (n-1)*interval*9/10 {
		t.Errorf("%d messages sent within %v, want at least %v apart", n, span, interval)
	}
	for i, msg := range r.sent {
		m, err := Unframe(msg)
		if err != nil {
			t.Fatal(err)
		}
		if want := (NameRequest{Selection{Program: uint8(i)}}); m != want {
			t.Errorf("message %d = %v, want %v", i, m, want)
		}
	}
}

func TestEngineSelectProgram(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	if err := e.SelectProgram(Selection{Bank: 2, Program: 40}); err != nil {
		t.Fatal(err)
	}
	got := drain(t, e)
	if len(got) != 4 {
		t.Fatalf("queued %v, want bank, program, edit request, name request", got)
	}
	var ch, ctl, val, prog uint8
	if msg, ok := got[0].(midi.Message); !ok || !msg.GetControlChange(&ch, &ctl, &val) || ctl != BankSelect || val != 2 {
		t.Errorf("first message = %v, want bank select 2", got[0])
	}
	if msg, ok := got[1].(midi.Message); !ok || !msg.GetProgramChange(&ch, &prog) || prog != 40 {
		t.Errorf("second message = %v, want program change 40", got[1])
	}
	if got[2] != (EditRequest{}) {
		t.Errorf("third message = %v, want edit request", got[2])
	}
	if err := e.SelectProgram(Selection{Bank: 4}); err == nil {
		t.Errorf("bank 5 accepted")
	}
}

func TestEngineSetParameters(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	if err := e.SetProgramParameter("osc1_level", 80); err != nil {
		t.Fatal(err)
	}
	if err := e.SetProgramParameter("seq2_step03", 12); err != nil {
		t.Fatal(err)
	}
	if err := e.SetProgramParameter("bogus", 1); err == nil {
		t.Errorf("unknown parameter accepted")
	}
	if err := e.SetMainParameter(params.Program, 130); err == nil {
		t.Errorf("program 131 accepted")
	}

	i, _ := params.ProgramIndex("osc1_level")
	got := drain(t, e)
	want := []any{
		ProgramParameter{Index: uint8(i), Value: 80},
		SequencerStep{Step: 18, Value: 12},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("queued %v, want %v", got, want)
	}
	edit := e.Memory().Edit()
	if edit.Params[i] != 80 || edit.Sequence[18] != 12 {
		t.Errorf("edit buffer not updated")
	}
}

func TestEngineStoreProgram(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	sel := Selection{Bank: 1, Program: 2}
	p := testProgram()
	if err := e.StoreProgram(sel, "Lead", p); err != nil {
		t.Fatal(err)
	}
	got := drain(t, e)
	if len(got) != 2 {
		t.Fatalf("queued %v, want program and name dump", got)
	}
	if d, ok := got[0].(ProgramDump); !ok || d.Selection != sel || d.Program != p {
		t.Errorf("first message = %v, want program dump", got[0])
	}
	if d, ok := got[1].(NameDump); !ok || d.Name != "Lead            " {
		t.Errorf("second message = %v, want padded name dump", got[1])
	}
	c, _ := e.Memory().Cell(sel)
	if c.Name != "Lead            " || c.Program == nil || *c.Program != p {
		t.Errorf("cell = %+v, want stored program and name", c)
	}

	if err := e.StoreProgram(sel, "a name that is far too long", p); err == nil {
		t.Errorf("long name accepted")
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("%d messages queued for a rejected store", n)
	}
}

func TestEngineRequestBankNames(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	if err := e.RequestBankNames(3); err != nil {
		t.Fatal(err)
	}
	got := drain(t, e)
	if len(got) != params.ProgramCount {
		t.Fatalf("queued %d requests, want %d", len(got), params.ProgramCount)
	}
	if got[127] != (NameRequest{Selection{Bank: 3, Program: 127}}) {
		t.Errorf("last request = %v", got[127])
	}
}

type memState struct {
	main     Main
	selected bool
	edit     Program
	matrix   [Banks][params.ProgramCount]Cell
	waves    [WaveshapeCount]*Waveshape
}

func snapshot(m *Memory) memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memState{main: m.main, selected: m.selected, edit: m.edit, matrix: m.matrix, waves: m.waves}
}

func TestEngineDumpIdempotent(t *testing.T) {
	var main Main
	main[0], main[1] = 5, 2
	var shape Waveshape
	for i := range shape {
		shape[i] = uint16(i * 500)
	}
	tests := []struct {
		name string
		m    Message
	}{
		{"program", ProgramDump{Selection: Selection{Bank: 3, Program: 99}, Program: testProgram()}},
		{"edit", EditDump{Program: testProgram()}},
		{"main", MainDump{Main: main}},
		{"name", NameDump{Selection: Selection{Bank: 1, Program: 7}, Name: "Pad             "}},
		{"waveshape", WaveshapeDump{Index: 100, Shape: shape}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(DefaultOptions())
			e.Receive(sysexMsg(t, tt.m))
			once := snapshot(e.Memory())
			e.Receive(sysexMsg(t, tt.m))
			if twice := snapshot(e.Memory()); !reflect.DeepEqual(once, twice) {
				t.Errorf("second %s dump changed memory", tt.name)
			}
			if reflect.DeepEqual(once, snapshot(NewMemory())) {
				t.Errorf("%s dump left memory empty", tt.name)
			}
		})
	}
}
