// Package params holds the fixed wire-index tables of the Evolver. The order
// of every table is the firmware contract: index n on the wire always means
// the n-th entry.
package params

import "fmt"

// ID names one synth parameter.
type ID string

const (
	ProgramCount  = 128
	MainCount     = 16
	SequenceSteps = 64

	// SequenceTracks * StepsPerTrack == SequenceSteps.
	SequenceTracks = 4
	StepsPerTrack  = 16
)

// Main parameters referenced directly by the replication logic.
const (
	Program ID = "program"
	Bank    ID = "bank"
)

var programTable = [ProgramCount]ID{
	// oscillators
	"osc1_frequency", "osc1_fine_tune", "osc1_shape", "osc1_level",
	"osc2_frequency", "osc2_fine_tune", "osc2_shape", "osc2_level",
	"osc3_frequency", "osc3_fine_tune", "osc3_shape", "osc3_level",
	"osc4_frequency", "osc4_fine_tune", "osc4_shape", "osc4_level",

	// low pass filter and its envelope
	"filter_frequency", "filter_env_amount", "filter_env_attack", "filter_env_decay",
	"filter_env_sustain", "filter_env_release", "filter_resonance", "filter_keyboard_amount",

	// vca and its envelope
	"vca_level", "vca_env_amount", "vca_env_attack", "vca_env_decay",
	"vca_env_sustain", "vca_env_release", "output_pan", "program_volume",

	// feedback and delay
	"feedback_frequency", "feedback_level", "grunge",
	"delay1_time", "delay1_level", "delay_seq_send", "delay_feedback_filter", "delay_feedback",

	// lfo 1, 2
	"lfo1_frequency", "lfo1_shape", "lfo1_amount", "lfo1_destination",
	"lfo2_frequency", "lfo2_shape", "lfo2_amount", "lfo2_destination",

	// envelope 3
	"env3_amount", "env3_destination", "env3_attack", "env3_decay",
	"env3_sustain", "env3_release",

	"trigger_select", "key_off_transpose",
	"seq1_destination", "seq2_destination", "seq3_destination", "seq4_destination",
	"noise_volume", "ext_in_volume", "ext_in_mode", "input_hack",

	// per oscillator modifiers
	"osc1_glide", "osc_sync", "program_tempo", "program_clock_divide",
	"osc2_glide", "osc_slop", "pitch_bend_range", "key_mode",
	"osc3_glide", "osc3_fm", "osc3_shape_mod", "osc3_ring_mod",
	"osc4_glide", "osc4_fm", "osc4_shape_mod", "osc4_ring_mod",

	"filter_poles", "filter_env_velocity", "filter_audio_mod", "filter_split",
	"highpass_filter", "mod1_source", "mod1_amount", "mod1_destination",
	"linear_exp_env", "mod2_source", "mod2_amount", "mod2_destination",

	// lfo 3, 4
	"lfo3_frequency", "lfo3_shape", "lfo3_amount", "lfo3_destination",
	"lfo4_frequency", "lfo4_shape", "lfo4_amount", "lfo4_destination",

	"env3_delay", "env3_velocity",
	"input_peak_amount", "input_peak_destination",
	"input_env_amount", "input_env_destination",
	"velocity_amount", "velocity_destination",
	"mod_wheel_amount", "mod_wheel_destination",
	"pressure_amount", "pressure_destination",
	"breath_amount", "breath_destination",
	"foot_amount", "foot_destination",

	"delay2_time", "delay2_level", "delay3_time", "delay3_level",
	"distortion",
	"mod3_source", "mod3_amount", "mod3_destination",
	"mod4_source", "mod4_amount", "mod4_destination",
	"env3_repeat",
}

var mainTable = [MainCount]ID{
	Program, Bank, "volume", "transpose",
	"bpm", "clock_divide", "use_program_tempo", "midi_clock",
	"lock_sequence", "poly_chain", "input_gain", "fine_tune",
	"midi_receive", "midi_transmit", "midi_channel", "midi_dump",
}

var (
	programIndex  = invert(programTable[:])
	mainIndex     = invert(mainTable[:])
	sequence      = sequenceIDs()
	sequenceIndex = invert(sequence[:])
)

func invert(ids []ID) map[ID]int {
	m := make(map[ID]int, len(ids))
	for i, id := range ids {
		if _, dup := m[id]; dup {
			panic(fmt.Sprintf("params: duplicate id %q", id))
		}
		m[id] = i
	}
	return m
}

func sequenceIDs() [SequenceSteps]ID {
	var ids [SequenceSteps]ID
	for i := range ids {
		ids[i] = ID(fmt.Sprintf("seq%d_step%02d", i/StepsPerTrack+1, i%StepsPerTrack+1))
	}
	return ids
}

// ProgramID returns the program parameter at wire index i.
func ProgramID(i int) (ID, bool) {
	if i < 0 || i >= ProgramCount {
		return "", false
	}
	return programTable[i], true
}

// ProgramIndex returns the wire index of a program parameter.
func ProgramIndex(id ID) (int, bool) {
	i, ok := programIndex[id]
	return i, ok
}

// MainID returns the main parameter at wire index i.
func MainID(i int) (ID, bool) {
	if i < 0 || i >= MainCount {
		return "", false
	}
	return mainTable[i], true
}

// MainIndex returns the wire index of a main parameter.
func MainIndex(id ID) (int, bool) {
	i, ok := mainIndex[id]
	return i, ok
}

// SequenceID returns the identifier of sequencer step i (0..63), counted
// track by track.
func SequenceID(i int) (ID, bool) {
	if i < 0 || i >= SequenceSteps {
		return "", false
	}
	return sequence[i], true
}

// SequenceIndex returns the step index of a sequencer identifier.
func SequenceIndex(id ID) (int, bool) {
	i, ok := sequenceIndex[id]
	return i, ok
}

// ProgramIDs returns the program table in wire order.
func ProgramIDs() []ID {
	ids := make([]ID, ProgramCount)
	copy(ids, programTable[:])
	return ids
}

// MainIDs returns the main table in wire order.
func MainIDs() []ID {
	ids := make([]ID, MainCount)
	copy(ids, mainTable[:])
	return ids
}
