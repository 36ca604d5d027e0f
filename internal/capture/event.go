package capture

import (
	"github.com/MeKo-Tech/idcap/internal/glare"
	"github.com/MeKo-Tech/idcap/internal/orientation"
	"github.com/MeKo-Tech/idcap/internal/readiness"
)

// Snapshot is the read-only view of a Machine handed to the UI layer.
type Snapshot struct {
	State          State                `json:"state"`
	Side           Side                 `json:"side"`
	DocType        string               `json:"doc_type"`
	Readiness      readiness.Phase      `json:"readiness"`
	Viewport       orientation.Viewport `json:"viewport"`
	Landscape      bool                 `json:"landscape"`
	CaptureEnabled bool                 `json:"capture_enabled"`
	HasFront       bool                 `json:"has_front"`
	HasBack        bool                 `json:"has_back"`
	Report         *glare.Report        `json:"report,omitempty"`
	Notice         string               `json:"notice,omitempty"`
	NoticeDetail   string               `json:"notice_detail,omitempty"`
	ErrorKind      string               `json:"error_kind,omitempty"`
	Acquiring      bool                 `json:"acquiring"`
	Streaming      bool                 `json:"streaming"`
	Transitions    int                  `json:"transitions"`
}

// Event is delivered to observers after every change. Transition is nil for
// changes that do not move the state, such as readiness or viewport updates.
type Event struct {
	Transition *Transition `json:"transition,omitempty"`
	Snapshot   Snapshot    `json:"snapshot"`
}

// Observer receives machine events. Observers run while the machine is
// locked: they must return quickly and must not call back into the machine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }
