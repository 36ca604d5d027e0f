package capture

import (
	"fmt"
	"time"

	"github.com/MeKo-Tech/idcap/internal/frame"
	"github.com/MeKo-Tech/idcap/internal/glare"
)

// State is a workflow state.
type State int

const (
	Init State = iota
	AwaitingFront
	FrontCaptured
	AwaitingBack
	BackCaptured
	AllCaptured
	Sending
	ProcessComplete
)

var stateNames = [...]string{
	Init:            "INIT",
	AwaitingFront:   "AWAITING_FRONT",
	FrontCaptured:   "FRONT_CAPTURED",
	AwaitingBack:    "AWAITING_BACK",
	BackCaptured:    "BACK_CAPTURED",
	AllCaptured:     "ALL_CAPTURED",
	Sending:         "SENDING",
	ProcessComplete: "PROCESS_COMPLETE",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	v, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState resolves a state name such as "AWAITING_FRONT".
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Init, fmt.Errorf("unknown state %q", name)
}

// Waiting reports whether the state waits for a capture.
func (s State) Waiting() bool {
	return s == AwaitingFront || s == AwaitingBack
}

// HasFront reports whether a front buffer exists in this state.
func (s State) HasFront() bool {
	return s >= FrontCaptured && s <= ProcessComplete
}

// HasBack reports whether a back buffer exists in this state.
func (s State) HasBack() bool {
	return s >= BackCaptured && s <= ProcessComplete
}

// Side is the document side being captured.
type Side int

const (
	Front Side = iota
	Back
)

func (s Side) String() string {
	if s == Back {
		return "back"
	}
	return "front"
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(text []byte) error {
	v, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSide resolves "front" or "back".
func ParseSide(name string) (Side, error) {
	switch name {
	case "front":
		return Front, nil
	case "back":
		return Back, nil
	default:
		return Front, fmt.Errorf("unknown side %q", name)
	}
}

// Transition records one state change.
type Transition struct {
	Seq     uint64    `json:"seq"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	Trigger string    `json:"trigger"`
	At      time.Time `json:"at"`
}

// Session is one pass through the workflow. It is owned by a Machine and
// replaced wholesale on reset.
type Session struct {
	State   State
	Side    Side
	DocType string
	Front   *frame.Buffer
	Back    *frame.Buffer
	Report  *glare.Report
	History []Transition
}

func newSession(docType string) *Session {
	return &Session{State: Init, Side: Front, DocType: docType}
}

// buffer returns the accepted buffer for side.
func (s *Session) buffer(side Side) *frame.Buffer {
	if side == Back {
		return s.Back
	}
	return s.Front
}

// Consistent reports whether the stored buffers match the state.
func (s *Session) Consistent() bool {
	return (s.Front != nil) == s.State.HasFront() && (s.Back != nil) == s.State.HasBack()
}
