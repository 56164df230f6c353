package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"evolute/config"
	"evolute/evolver"
	"evolute/midiport"
	"evolute/params"
	"evolute/sysex"
)

const (
	// replyTimeout bounds every wait for the synth to answer.
	replyTimeout = 5 * time.Second
	// nameTimeout bounds the wait for a program name, which is optional.
	nameTimeout = time.Second
)

// Evolver is a running replication session: the open ports, the engine and
// its pump.
type Evolver struct {
	log      *zap.Logger
	engine   *evolver.Engine
	port     *midiport.Port
	interval time.Duration

	cancel context.CancelFunc
	done   chan error
}

// OpenEvolver opens the configured ports, starts the pump and asks the synth
// for its global settings.
func OpenEvolver(cfg *config.Config, log *zap.Logger) (*Evolver, error) {
	opts := evolver.Options{
		Channel:   uint8(cfg.MIDI.Channel - 1),
		Interval:  cfg.Outbound.Interval,
		QueueSize: cfg.Outbound.QueueSize,
	}
	engine := evolver.NewEngine(evolver.NewMemory(), opts, log.Named("engine"))

	in := cfg.MIDI.Input
	if in == "" {
		in = cfg.MIDI.Output
	}
	port, err := midiport.Open(in, cfg.MIDI.Output, engine.Receive, log.Named("midi"))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Evolver{
		log:      log,
		engine:   engine,
		port:     port,
		interval: opts.Interval,
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { e.done <- engine.Run(ctx, port) }()

	if err := engine.Start(); err != nil {
		e.Close()
		return nil, err
	}
	log.Info("opened Evolver", zap.Int("channel", cfg.MIDI.Channel), zap.Duration("interval", opts.Interval))
	return e, nil
}

// Close stops the pump and closes the ports.
func (e *Evolver) Close() {
	e.cancel()
	if err := <-e.done; err != nil {
		e.log.Warn("pump stopped with error", zap.Error(err))
	}
	e.port.Close()
}

// waitFor polls cond until it holds or the timeout passes.
func (e *Evolver) waitFor(what string, timeout time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			e.log.Warn("timed out", zap.String("waiting_for", what))
			return errors.Errorf("timed out waiting for %s", what)
		}
		time.Sleep(e.interval / 2)
	}
	return nil
}

// WaitSynced waits until the edit buffer has been received for the current
// selection and every queued request has gone out.
func (e *Evolver) WaitSynced() error {
	return e.waitFor("edit buffer", replyTimeout, func() bool {
		return e.engine.State() == evolver.Synced && e.engine.Pending() == 0
	})
}

// Flush waits until the outbound queue is empty and the last message had
// its interval to reach the synth.
func (e *Evolver) Flush() error {
	timeout := replyTimeout + time.Duration(e.engine.Pending())*e.interval
	if err := e.waitFor("outbound queue", timeout, func() bool {
		return e.engine.Pending() == 0
	}); err != nil {
		return err
	}
	time.Sleep(e.interval)
	return nil
}

// EnqueueAll queues msgs in order, waiting for room when the queue is full.
func (e *Evolver) EnqueueAll(msgs []evolver.Message) error {
	for i, m := range msgs {
		err := e.engine.Enqueue(m)
		for errors.Is(err, evolver.ErrQueueFull) {
			time.Sleep(e.interval)
			err = e.engine.Enqueue(m)
		}
		if err != nil {
			return errors.Wrapf(err, "message %d (%s)", i, m.Kind())
		}
	}
	return nil
}

// CurrentName returns the name of the selected program, if it is known.
func (e *Evolver) CurrentName() string {
	sel, ok := e.engine.Selection()
	if !ok {
		return ""
	}
	c, err := e.engine.Memory().Cell(sel)
	if err != nil || c.Name == evolver.UnknownName {
		return ""
	}
	return strings.TrimRight(c.Name, " ")
}

// WaitName waits briefly for the name of the selected program. It reports
// whether the name arrived; a missing name is not an error.
func (e *Evolver) WaitName() bool {
	return e.waitFor("program name", nameTimeout, func() bool {
		sel, ok := e.engine.Selection()
		if !ok {
			return false
		}
		c, err := e.engine.Memory().Cell(sel)
		return err == nil && c.Name != evolver.UnknownName
	}) == nil
}

// BankNames requests every program name of bank and waits for the replies.
// Names that did not arrive are empty.
func (e *Evolver) BankNames(bank uint8) ([]string, error) {
	if err := e.engine.RequestBankNames(bank); err != nil {
		return nil, err
	}
	mem := e.engine.Memory()
	names := make([]string, params.ProgramCount)
	timeout := replyTimeout + time.Duration(params.ProgramCount)*e.interval
	err := e.waitFor("bank names", timeout, func() bool {
		for p := range names {
			c, err := mem.Cell(evolver.Selection{Bank: bank, Program: uint8(p)})
			if err != nil {
				return false
			}
			if c.Name == evolver.UnknownName {
				return false
			}
		}
		return true
	})
	for p := range names {
		c, _ := mem.Cell(evolver.Selection{Bank: bank, Program: uint8(p)})
		if c.Name != evolver.UnknownName {
			names[p] = strings.TrimRight(c.Name, " ")
		}
	}
	return names, err
}

// parseSelection reads a 1-based bank (1-4) and program (1-128).
func parseSelection(bank, program string) (evolver.Selection, error) {
	b, err := strconv.Atoi(bank)
	if err != nil {
		return evolver.Selection{}, errors.Wrapf(err, "bank %q", bank)
	}
	p, err := strconv.Atoi(program)
	if err != nil {
		return evolver.Selection{}, errors.Wrapf(err, "program %q", program)
	}
	return makeSelection(b, p)
}

func makeSelection(bank, program int) (evolver.Selection, error) {
	if bank < 1 || bank > evolver.Banks {
		return evolver.Selection{}, errors.Wrapf(sysex.ErrRange, "bank must be in range 1-%d, got %d", evolver.Banks, bank)
	}
	if program < 1 || program > 128 {
		return evolver.Selection{}, errors.Wrapf(sysex.ErrRange, "program must be in range 1-128, got %d", program)
	}
	return evolver.Selection{Bank: uint8(bank - 1), Program: uint8(program - 1)}, nil
}
