package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
)

var ErrInvalidTransition = errors.New("invalid recorder transition")

// State holds the session flags. It only changes through Reduce.
type State struct {
	Input      string
	Loading    bool
	TTSEnabled bool
	Recorder   chat.RecorderState
}

// NewState returns the state of a fresh page view.
func NewState() State {
	return State{Recorder: chat.RecorderIdle}
}

// Typing mirrors Loading; it only drives the typing indicator.
func (s State) Typing() bool {
	return s.Loading
}

// Recording reports whether the microphone is capturing.
func (s State) Recording() bool {
	return s.Recorder == chat.RecorderRecording
}

// CanSend is the enabled state of the send control.
func (s State) CanSend() bool {
	return !s.Loading && strings.TrimSpace(s.Input) != ""
}

// RecorderEvent drives the recorder state machine.
type RecorderEvent string

const (
	RecorderStarted     RecorderEvent = "started"
	RecorderStopped     RecorderEvent = "stopped"
	RecorderTranscribed RecorderEvent = "transcribed"
	RecorderFailed      RecorderEvent = "failed"
)

// Transition returns the recorder state after ev, or ErrInvalidTransition.
//
//	idle         --started-->     recording
//	recording    --stopped-->     transcribing
//	recording    --failed-->      idle
//	transcribing --transcribed--> idle
//	transcribing --failed-->      idle
func Transition(from chat.RecorderState, ev RecorderEvent) (chat.RecorderState, error) {
	switch {
	case from == chat.RecorderIdle && ev == RecorderStarted:
		return chat.RecorderRecording, nil
	case from == chat.RecorderRecording && ev == RecorderStopped:
		return chat.RecorderTranscribing, nil
	case from == chat.RecorderRecording && ev == RecorderFailed:
		return chat.RecorderIdle, nil
	case from == chat.RecorderTranscribing && (ev == RecorderTranscribed || ev == RecorderFailed):
		return chat.RecorderIdle, nil
	default:
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
}

// ActionType enumerates state updates.
type ActionType int

const (
	ActionSetInput ActionType = iota
	ActionRequestStarted
	ActionRequestFinished
	ActionToggleTTS
	ActionRecorder
)

// Action is one state update. Text is used by ActionSetInput and by
// ActionRecorder with RecorderTranscribed.
type Action struct {
	Type  ActionType
	Text  string
	Event RecorderEvent
}

// Reduce applies a to s. Only recorder actions can fail.
func Reduce(s State, a Action) (State, error) {
	switch a.Type {
	case ActionSetInput:
		s.Input = a.Text
	case ActionRequestStarted:
		s.Loading = true
	case ActionRequestFinished:
		s.Loading = false
	case ActionToggleTTS:
		s.TTSEnabled = !s.TTSEnabled
	case ActionRecorder:
		next, err := Transition(s.Recorder, a.Event)
		if err != nil {
			return s, err
		}
		s.Recorder = next
		if a.Event == RecorderTranscribed {
			s.Input = a.Text
		}
	default:
		return s, fmt.Errorf("unknown action type %d", a.Type)
	}
	return s, nil
}
