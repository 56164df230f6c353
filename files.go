package main

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"evolute/evolver"
	"evolute/export"
	"evolute/sysex"
)

// exportPath resolves relative file names against the configured export
// directory.
func exportPath(dir, name string) string {
	if dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// saveSysEx writes the synced edit buffer to a .syx file.
func saveSysEx(e *Evolver, path string) error {
	if err := e.WaitSynced(); err != nil {
		return err
	}
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := export.WriteSysEx(f, evolver.EditDump{Program: e.engine.Memory().Edit()}); err != nil {
		return err
	}
	e.log.Info("saved edit buffer", zap.String("file", path))
	return f.Close()
}

// loadSysEx sends every Evolver message found in a .syx file.
func loadSysEx(e *Evolver, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	msgs, err := export.ReadSysEx(f)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	e.log.Info("sending sysex file", zap.String("file", path), zap.Int("messages", len(msgs)))
	if err := e.EnqueueAll(msgs); err != nil {
		return err
	}
	return e.Flush()
}

func parseWaveshape(s string) (uint8, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "waveshape %q", s)
	}
	if n < 1 || n > evolver.WaveshapeCount {
		return 0, errors.Wrapf(sysex.ErrRange, "waveshape must be in range 1-%d, got %d", evolver.WaveshapeCount, n)
	}
	return uint8(n - 1), nil
}

// saveWaveshape requests waveshape n (1-based) and writes it as WAV.
func saveWaveshape(e *Evolver, n, path string) error {
	idx, err := parseWaveshape(n)
	if err != nil {
		return err
	}
	if err := e.engine.RequestWaveshape(idx); err != nil {
		return err
	}
	mem := e.engine.Memory()
	if err := e.waitFor("waveshape dump", replyTimeout, func() bool {
		_, ok := mem.Waveshape(int(idx))
		return ok
	}); err != nil {
		return err
	}
	w, _ := mem.Waveshape(int(idx))

	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := export.SaveWaveshape(f, w); err != nil {
		return err
	}
	e.log.Info("saved waveshape", zap.Int("waveshape", int(idx)+1), zap.String("file", path))
	return f.Close()
}

// sendWaveshape loads a WAV file and sends it as waveshape n (1-based).
func sendWaveshape(e *Evolver, n, path string) error {
	idx, err := parseWaveshape(n)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := export.LoadWaveshape(f)
	if err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	if err := e.engine.SendWaveshape(idx, w); err != nil {
		return err
	}
	return e.Flush()
}
