package evolver

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"evolute/params"
	"evolute/sysex"
)

// BankSelect is the control change the Evolver uses to report and receive
// bank changes.
const BankSelect = 0x20

// ErrQueueFull is returned when the outbound queue cannot take another
// message. The message is dropped.
var ErrQueueFull = errors.New("outbound queue full")

// Transport writes one complete MIDI message to the synth.
type Transport interface {
	Send(msg midi.Message) error
}

// State is the replication state of the edit buffer.
type State int

const (
	// Idle: no bank/program known yet.
	Idle State = iota
	// Resyncing: the selection changed and an edit buffer dump is pending.
	Resyncing
	// Synced: the edit buffer is believed to match the synth.
	Synced
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resyncing:
		return "resyncing"
	case Synced:
		return "synced"
	}
	return "unknown"
}

// Options configure an Engine.
type Options struct {
	// Channel is the zero based MIDI channel for program and bank changes.
	Channel uint8
	// Interval is the minimum time between two outbound messages. Values
	// below MinInterval are raised to it.
	Interval time.Duration
	// QueueSize bounds the number of pending outbound messages.
	QueueSize int
}

// MinInterval caps outbound traffic at ten messages per second.
const MinInterval = 100 * time.Millisecond

func DefaultOptions() Options {
	return Options{
		Channel:   0,
		Interval:  MinInterval,
		QueueSize: 256,
	}
}

// Engine keeps a Memory in step with the synth. Receive is the inbound
// handler; Run is the outbound pump and the only writer to the Transport.
type Engine struct {
	log     *zap.Logger
	mem     *Memory
	opts    Options
	queue   chan midi.Message
	limiter *rate.Limiter

	mu       sync.Mutex
	state    State
	observed Selection
	known    bool
}

func NewEngine(mem *Memory, opts Options, log *zap.Logger) *Engine {
	def := DefaultOptions()
	if opts.Interval < MinInterval {
		opts.Interval = MinInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	return &Engine{
		log:     log,
		mem:     mem,
		opts:    opts,
		queue:   make(chan midi.Message, opts.QueueSize),
		limiter: rate.NewLimiter(rate.Every(opts.Interval), 1),
	}
}

func (e *Engine) Memory() *Memory {
	return e.mem
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Selection returns the selection the engine last resynced to.
func (e *Engine) Selection() (Selection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observed, e.known
}

// Pending returns the number of queued outbound messages.
func (e *Engine) Pending() int {
	return len(e.queue)
}

// Start seeds replication by asking for the global settings, which carry the
// current bank and program.
func (e *Engine) Start() error {
	return e.Enqueue(MainRequest{})
}

// Run pumps the outbound queue until ctx is done, sending at most one
// message per interval.
func (e *Engine) Run(ctx context.Context, t Transport) error {
	e.log.Info("outbound pump started", zap.Duration("interval", e.opts.Interval))
	defer e.log.Info("outbound pump stopped")
	for {
		if err := e.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := e.step(t); err != nil {
			e.log.Warn("transmit failed", zap.Error(err))
		}
	}
}

// step is one pump cycle: resync if the selection moved, then transmit at
// most one queued message.
func (e *Engine) step(t Transport) error {
	e.Observe()
	select {
	case msg := <-e.queue:
		if err := t.Send(msg); err != nil {
			return errors.Wrapf(err, "send %s", msg)
		}
		e.log.Debug("sent", zap.Stringer("msg", msg))
	default:
	}
	return nil
}

// Observe compares the selection in memory with the last one seen. On a
// change it archives the edit buffer into the previous slot and requests the
// new edit buffer and name. Nothing is archived while resyncing. Calling it
// again without a change does nothing.
func (e *Engine) Observe() {
	e.mu.Lock()
	defer e.mu.Unlock()

	sel, ok := e.mem.Selection()
	if !ok || (e.known && sel == e.observed) {
		return
	}
	if e.known && e.state == Synced {
		if err := e.mem.Archive(e.observed); err != nil {
			e.log.Warn("archive failed", zap.Stringer("slot", e.observed), zap.Error(err))
		}
	}
	e.log.Info("program change",
		zap.Stringer("from", e.observed), zap.Bool("from_known", e.known),
		zap.Stringer("to", sel), zap.Stringer("state", e.state))

	e.observed, e.known = sel, true
	e.state = Resyncing
	for _, m := range []Message{EditRequest{}, NameRequest{sel}} {
		if err := e.Enqueue(m); err != nil {
			e.log.Warn("resync request dropped", zap.Stringer("kind", m.Kind()), zap.Error(err))
		}
	}
}

// Receive handles one inbound MIDI message. It only updates memory: the
// pump notices selection changes on its next cycle, so a bank select
// followed by a program change is one transition. It never blocks and never
// writes to the transport.
func (e *Engine) Receive(msg midi.Message) {
	var (
		ch, program, control, value uint8
		body                        []byte
	)
	switch {
	case msg.GetSysEx(&body):
		e.receiveSysEx(body)

	case msg.GetProgramChange(&ch, &program):
		if ch != e.opts.Channel {
			return
		}
		if err := e.mem.SelectProgram(program); err != nil {
			e.log.Warn("bad program change", zap.Uint8("program", program), zap.Error(err))
		}

	case msg.GetControlChange(&ch, &control, &value):
		if ch != e.opts.Channel || control != BankSelect {
			return
		}
		if err := e.mem.SelectBank(value); err != nil {
			e.log.Warn("bad bank change", zap.Uint8("bank", value), zap.Error(err))
		}

	default:
		e.log.Debug("ignored", zap.Stringer("msg", msg))
	}
}

func (e *Engine) receiveSysEx(body []byte) {
	m, err := Unmarshal(body)
	if err != nil {
		e.log.Warn("dropped sysex", zap.Int("len", len(body)), zap.Error(err))
		return
	}
	if err := e.Apply(m); err != nil {
		e.log.Warn("dropped message", zap.Stringer("kind", m.Kind()), zap.Error(err))
		return
	}
	e.log.Debug("received", zap.Stringer("kind", m.Kind()))
}

// Apply merges a decoded message into memory. Dumps replace whole regions,
// single parameter updates change one value. Requests and commands carry no
// state and are ignored.
func (e *Engine) Apply(m Message) error {
	switch m := m.(type) {
	case ProgramDump:
		return e.mem.StoreProgram(m.Selection, m.Program)
	case EditDump:
		e.mem.SetEdit(m.Program)
		e.mu.Lock()
		if e.state == Resyncing {
			e.state = Synced
			e.log.Info("edit buffer synced", zap.Stringer("slot", e.observed))
		}
		e.mu.Unlock()
		return nil
	case WaveshapeDump:
		return e.mem.SetWaveshape(int(m.Index), m.Shape)
	case MainDump:
		return e.mem.SetMain(m.Main)
	case NameDump:
		return e.mem.SetName(m.Selection, m.Name)
	case ProgramParameter:
		return e.mem.SetEditValue(int(m.Index), m.Value)
	case SequencerStep:
		return e.mem.SetSequenceStep(int(m.Step), m.Value)
	case MainParameter:
		return e.mem.SetMainValue(int(m.Index), m.Value)
	}
	e.log.Debug("nothing to apply", zap.Stringer("kind", m.Kind()))
	return nil
}

// Enqueue frames m and queues it for the pump.
func (e *Engine) Enqueue(m Message) error {
	msg, err := Frame(m)
	if err != nil {
		return err
	}
	return e.enqueue(msg)
}

func (e *Engine) enqueue(msg midi.Message) error {
	select {
	case e.queue <- msg:
		return nil
	default:
		e.log.Warn("outbound queue full; dropping message", zap.Stringer("msg", msg))
		return ErrQueueFull
	}
}

// SelectProgram asks the synth to switch to sel, records it locally and
// queues the resync requests behind the switch.
func (e *Engine) SelectProgram(sel Selection) error {
	if err := sel.validate(); err != nil {
		return err
	}
	if err := e.enqueue(midi.ControlChange(e.opts.Channel, BankSelect, sel.Bank)); err != nil {
		return err
	}
	if err := e.enqueue(midi.ProgramChange(e.opts.Channel, sel.Program)); err != nil {
		return err
	}
	if err := e.mem.Select(sel); err != nil {
		return err
	}
	e.Observe()
	return nil
}

// SetProgramParameter edits the local edit buffer and sends the change.
func (e *Engine) SetProgramParameter(id params.ID, v byte) error {
	if i, ok := params.SequenceIndex(id); ok {
		return e.SetSequencerStep(i, v)
	}
	i, ok := params.ProgramIndex(id)
	if !ok {
		return errors.Errorf("unknown program parameter %q", id)
	}
	if err := e.mem.SetEditValue(i, v); err != nil {
		return err
	}
	return e.Enqueue(ProgramParameter{Index: uint8(i), Value: v})
}

// SetSequencerStep edits one sequencer step and sends the change.
func (e *Engine) SetSequencerStep(step int, v byte) error {
	if err := e.mem.SetSequenceStep(step, v); err != nil {
		return err
	}
	return e.Enqueue(SequencerStep{Step: uint8(step), Value: v})
}

// SetMainParameter edits one global setting and sends the change.
func (e *Engine) SetMainParameter(id params.ID, v byte) error {
	i, ok := params.MainIndex(id)
	if !ok {
		return errors.Errorf("unknown main parameter %q", id)
	}
	if err := e.mem.SetMainValue(i, v); err != nil {
		return err
	}
	return e.Enqueue(MainParameter{Index: uint8(i), Value: v})
}

// SendProgram sends p as the synth's edit buffer.
func (e *Engine) SendProgram(p Program) error {
	return e.Enqueue(EditDump{Program: p})
}

// SendWaveshape stores w as waveshape n and sends it.
func (e *Engine) SendWaveshape(n uint8, w Waveshape) error {
	if err := e.mem.SetWaveshape(int(n), w); err != nil {
		return err
	}
	return e.Enqueue(WaveshapeDump{Index: n, Shape: w})
}

// SendEditBuffer sends the local edit buffer to the synth.
func (e *Engine) SendEditBuffer() error {
	return e.SendProgram(e.mem.Edit())
}

// StoreProgram writes p and its name to slot sel on the synth and in the
// local matrix. Nothing is queued if the name does not encode.
func (e *Engine) StoreProgram(sel Selection, name string, p Program) error {
	if err := sel.validate(); err != nil {
		return err
	}
	enc, err := sysex.EncodeName(name)
	if err != nil {
		return err
	}
	name = sysex.DecodeName(enc[:])
	if err := e.Enqueue(ProgramDump{Selection: sel, Program: p}); err != nil {
		return err
	}
	if err := e.Enqueue(NameDump{Selection: sel, Name: name}); err != nil {
		return err
	}
	if err := e.mem.StoreProgram(sel, p); err != nil {
		return err
	}
	return e.mem.SetName(sel, name)
}

func (e *Engine) RequestMain() error {
	return e.Enqueue(MainRequest{})
}

func (e *Engine) RequestEdit() error {
	return e.Enqueue(EditRequest{})
}

func (e *Engine) RequestProgram(sel Selection) error {
	return e.Enqueue(ProgramRequest{sel})
}

func (e *Engine) RequestName(sel Selection) error {
	return e.Enqueue(NameRequest{sel})
}

func (e *Engine) RequestWaveshape(n uint8) error {
	return e.Enqueue(WaveshapeRequest{Index: n})
}

// RequestBankNames asks for every name in one bank.
func (e *Engine) RequestBankNames(bank uint8) error {
	for p := 0; p < params.ProgramCount; p++ {
		if err := e.RequestName(Selection{Bank: bank, Program: uint8(p)}); err != nil {
			return errors.Wrapf(err, "program %d", p+1)
		}
	}
	return nil
}

// SendCommand sends a front panel command.
func (e *Engine) SendCommand(c Command) error {
	return e.Enqueue(c)
}
