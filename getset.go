package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"evolute/evolver"
	"evolute/export"
)

// getEdit waits for the edit buffer and prints it as JSON.
func getEdit(e *Evolver) error {
	if err := e.WaitSynced(); err != nil {
		return err
	}
	e.WaitName()

	sel, _ := e.engine.Selection()
	e.log.Info("read edit buffer", zap.Stringer("slot", sel))
	return export.SaveJSON(os.Stdout, e.engine.Memory().Edit(), e.CurrentName())
}

// listNames prints the names of one bank, one program per line.
func listNames(e *Evolver, w io.Writer, bank string) error {
	b, err := strconv.Atoi(bank)
	if err != nil {
		return errors.Wrapf(err, "bank %q", bank)
	}
	sel, err := makeSelection(b, 1)
	if err != nil {
		return err
	}
	names, err := e.BankNames(sel.Bank)
	if names == nil {
		return err
	}
	if err != nil {
		e.log.Warn("some names did not arrive", zap.Error(err))
	}
	for p, name := range names {
		if name == "" {
			name = "?"
		}
		fmt.Fprintf(w, "%s %s\n", evolver.Selection{Bank: sel.Bank, Program: uint8(p)}, name)
	}
	return nil
}

// readProgram reads a JSON program from path, or stdin when path is empty
// or "-".
func readProgram(path string) (evolver.Program, string, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return evolver.Program{}, "", err
		}
		defer f.Close()
		r = f
	}
	return export.LoadJSON(r)
}

// setEdit sends a JSON program as the synth's edit buffer.
func setEdit(e *Evolver, path string) error {
	p, name, err := readProgram(path)
	if err != nil {
		return err
	}
	if name != "" {
		e.log.Info("edit buffer has no name slot; use store to keep the name", zap.String("name", name))
	}
	e.engine.Memory().SetEdit(p)
	if err := e.engine.SendEditBuffer(); err != nil {
		return err
	}
	return e.Flush()
}

// storeProgram writes a JSON program into a stored slot.
func storeProgram(e *Evolver, bank, program, path string) error {
	sel, err := parseSelection(bank, program)
	if err != nil {
		return err
	}
	p, name, err := readProgram(path)
	if err != nil {
		return err
	}
	if name == "" {
		name = strings.TrimRight(evolver.UnknownName, " ")
	}
	if err := e.engine.StoreProgram(sel, name, p); err != nil {
		return err
	}
	e.log.Info("stored program", zap.Stringer("slot", sel), zap.String("name", name))
	return e.Flush()
}

// selectProgram switches the synth to another program and waits for its
// edit buffer.
func selectProgram(e *Evolver, bank, program string) error {
	sel, err := parseSelection(bank, program)
	if err != nil {
		return err
	}
	if err := e.engine.SelectProgram(sel); err != nil {
		return err
	}
	return e.WaitSynced()
}

var commands = map[string]evolver.Command{
	"reset":      evolver.Reset,
	"start-stop": evolver.StartStop,
	"shift-on":   evolver.ShiftOn,
	"shift-off":  evolver.ShiftOff,
}

func sendCommand(e *Evolver, name string) error {
	c, ok := commands[strings.ToLower(name)]
	if !ok {
		return errors.Errorf("unknown command %q (want reset, start-stop, shift-on or shift-off)", name)
	}
	if err := e.engine.SendCommand(c); err != nil {
		return err
	}
	return e.Flush()
}

// monitor keeps the mirror in sync until ctx is done, logging a status line
// whenever the selection or the sync state changes.
func monitor(ctx context.Context, e *Evolver) error {
	var (
		lastSel   evolver.Selection
		lastState evolver.State
		first     = true
	)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sel, _ := e.engine.Selection()
			state := e.engine.State()
			if first || sel != lastSel || state != lastState {
				e.log.Info("status",
					zap.Stringer("slot", sel),
					zap.Stringer("state", state),
					zap.String("name", e.CurrentName()),
					zap.Int("pending", e.engine.Pending()))
				lastSel, lastState, first = sel, state, false
			}
		}
	}
}
