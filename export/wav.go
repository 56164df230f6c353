package export

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	"evolute/evolver"
	"evolute/sysex"
)

const (
	sampleRate = 44100
	bitDepth   = 16
)

// SaveWaveshape writes w as a mono 16-bit WAV of 128 frames. Each point is
// stored as its two's complement sample value.
func SaveWaveshape(ws io.WriteSeeker, w evolver.Waveshape) error {
	data := make([]int, len(w))
	for i, p := range w {
		data[i] = int(int16(p))
	}
	enc := wav.NewEncoder(ws, sampleRate, bitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return errors.Wrap(err, "write samples")
	}
	return enc.Close()
}

// LoadWaveshape reads a WAV written by SaveWaveshape, or any mono 16-bit
// WAV of exactly 128 frames.
func LoadWaveshape(rs io.ReadSeeker) (evolver.Waveshape, error) {
	var w evolver.Waveshape
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return w, errors.New("not a valid wav file")
	}
	if dec.NumChans != 1 || dec.BitDepth != bitDepth {
		return w, errors.Errorf("want mono %d-bit audio, got %d channels at %d bits", bitDepth, dec.NumChans, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return w, errors.Wrap(err, "read samples")
	}
	if len(buf.Data) != evolver.WaveshapePoints {
		return w, errors.Wrapf(sysex.ErrRange, "%d frames, want %d", len(buf.Data), evolver.WaveshapePoints)
	}
	for i, s := range buf.Data {
		w[i] = uint16(int16(s))
	}
	return w, nil
}
