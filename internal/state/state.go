// Package state models the reader's phases as a closed set of states with
// an explicit transition table.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/arre-reader/arre/internal/models"
)

// ErrInvalidTransition is returned for events a state does not accept.
var ErrInvalidTransition = errors.New("invalid state transition")

// Phase groups the states.
type Phase string

const (
	PhaseInit  Phase = "init"
	PhaseModel Phase = "model"
	PhaseText  Phase = "text"
	PhaseAudio Phase = "audio"
)

// State is one of the states declared in this package.
type State interface {
	Phase() Phase
	String() string
	state()
}

type (
	InitInitial  struct{}
	InitError    struct{ Err error }
	ModelInitial struct{}
	ModelLoading struct{ Progress models.Progress }
	ModelError   struct{ Err error }
	TextInitial  struct{}
	TextLoading  struct{}
	TextError    struct{ Err error }
	AudioLoading struct{ Done, Total int }
	AudioError   struct{ Err error }
	AudioReady   struct{}
)

func (InitInitial) Phase() Phase  { return PhaseInit }
func (InitError) Phase() Phase    { return PhaseInit }
func (ModelInitial) Phase() Phase { return PhaseModel }
func (ModelLoading) Phase() Phase { return PhaseModel }
func (ModelError) Phase() Phase   { return PhaseModel }
func (TextInitial) Phase() Phase  { return PhaseText }
func (TextLoading) Phase() Phase  { return PhaseText }
func (TextError) Phase() Phase    { return PhaseText }
func (AudioLoading) Phase() Phase { return PhaseAudio }
func (AudioError) Phase() Phase   { return PhaseAudio }
func (AudioReady) Phase() Phase   { return PhaseAudio }

func (InitInitial) state()  {}
func (InitError) state()    {}
func (ModelInitial) state() {}
func (ModelLoading) state() {}
func (ModelError) state()   {}
func (TextInitial) state()  {}
func (TextLoading) state()  {}
func (TextError) state()    {}
func (AudioLoading) state() {}
func (AudioError) state()   {}
func (AudioReady) state()   {}

func (InitInitial) String() string    { return "init/initial" }
func (s InitError) String() string    { return "init/error: " + errString(s.Err) }
func (ModelInitial) String() string   { return "model/initial" }
func (s ModelLoading) String() string { return fmt.Sprintf("model/loading %.0f%%", max(s.Progress.Percent(), 0)) }
func (s ModelError) String() string   { return "model/error: " + errString(s.Err) }
func (TextInitial) String() string    { return "text/initial" }
func (TextLoading) String() string    { return "text/loading" }
func (s TextError) String() string    { return "text/error: " + errString(s.Err) }
func (s AudioLoading) String() string { return fmt.Sprintf("audio/loading %d/%d", s.Done, s.Total) }
func (s AudioError) String() string   { return "audio/error: " + errString(s.Err) }
func (AudioReady) String() string     { return "audio/ready" }

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// Event drives a transition.
type Event interface {
	event()
}

type (
	// Initialized: the service is up.
	Initialized struct{}
	// ModelStored: the voice model is already on disk.
	ModelStored struct{}
	// ModelProgress reports download progress.
	ModelProgress struct{ Progress models.Progress }
	// ModelReady: the download completed.
	ModelReady struct{}
	// TextRequested: the source is being read.
	TextRequested struct{}
	// TextReady carries the number of sentences to synthesize.
	TextReady struct{ Sentences int }
	// SentenceDone: one more sentence settled, queued for playback or
	// skipped. Sentences settle in completion order, not document order.
	SentenceDone struct{}
	// PlaybackDone: everything has been played.
	PlaybackDone struct{}
	// Failed reports an error in the current phase.
	Failed struct{ Err error }
)

func (Initialized) event()   {}
func (ModelStored) event()   {}
func (ModelProgress) event() {}
func (ModelReady) event()    {}
func (TextRequested) event() {}
func (TextReady) event()     {}
func (SentenceDone) event()  {}
func (PlaybackDone) event()  {}
func (Failed) event()        {}

// Transition returns the state that follows s on e.
func Transition(s State, e Event) (State, error) {
	if f, ok := e.(Failed); ok {
		return failIn(s, f.Err)
	}

	switch s := s.(type) {
	case InitInitial:
		if _, ok := e.(Initialized); ok {
			return ModelInitial{}, nil
		}

	case ModelInitial:
		switch e := e.(type) {
		case ModelStored:
			return TextInitial{}, nil
		case ModelProgress:
			return ModelLoading{Progress: e.Progress}, nil
		}

	case ModelLoading:
		switch e := e.(type) {
		case ModelProgress:
			return ModelLoading{Progress: e.Progress}, nil
		case ModelReady:
			return TextInitial{}, nil
		}

	case TextInitial:
		if _, ok := e.(TextRequested); ok {
			return TextLoading{}, nil
		}

	case TextLoading:
		if e, ok := e.(TextReady); ok {
			if e.Sentences == 0 {
				return AudioReady{}, nil
			}
			return AudioLoading{Total: e.Sentences}, nil
		}

	case AudioLoading:
		switch e.(type) {
		case SentenceDone:
			if s.Done+1 >= s.Total {
				return AudioReady{}, nil
			}
			return AudioLoading{Done: s.Done + 1, Total: s.Total}, nil
		}

	case AudioReady:
		switch e.(type) {
		case PlaybackDone:
			return AudioReady{}, nil
		case TextRequested:
			return TextLoading{}, nil
		}

	case InitError, ModelError, TextError, AudioError:
		// Terminal.

	default:
		panic(fmt.Sprintf("state: unhandled state %T", s))
	}

	return s, fmt.Errorf("%w: %s on %T", ErrInvalidTransition, s, e)
}

func failIn(s State, err error) (State, error) {
	switch s.(type) {
	case InitError, ModelError, TextError, AudioError:
		return s, fmt.Errorf("%w: %s on Failed", ErrInvalidTransition, s)
	}

	switch s.Phase() {
	case PhaseInit:
		return InitError{Err: err}, nil
	case PhaseModel:
		return ModelError{Err: err}, nil
	case PhaseText:
		return TextError{Err: err}, nil
	case PhaseAudio:
		return AudioError{Err: err}, nil
	}
	panic(fmt.Sprintf("state: unknown phase %q", s.Phase()))
}

// Machine holds the current state and notifies an observer on change.
type Machine struct {
	mu       sync.Mutex
	current  State
	observer func(from, to State)
}

// NewMachine starts in InitInitial. observer may be nil.
func NewMachine(observer func(from, to State)) *Machine {
	return &Machine{current: InitInitial{}, observer: observer}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Fire applies e. Invalid events leave the state unchanged.
func (m *Machine) Fire(e Event) (State, error) {
	m.mu.Lock()
	from := m.current
	to, err := Transition(from, e)
	if err != nil {
		m.mu.Unlock()
		return from, err
	}
	m.current = to
	m.mu.Unlock()

	if m.observer != nil {
		m.observer(from, to)
	}
	return to, nil
}
