package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/MeKo-Tech/idcap/internal/auth"
	"github.com/MeKo-Tech/idcap/internal/orientation"
)

// TestMachine_BuffersMatchState drives random operation sequences and checks
// that stored buffers always agree with the state.
func TestMachine_BuffersMatchState(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("front/back buffers exist exactly in their states", prop.ForAll(
		func(ops []int) bool {
			h := newHarness(t, blackFrame())
			for _, op := range ops {
				switch op {
				case 0:
					_ = h.m.Start(context.Background())
				case 1:
					h.m.Capture(overlay)
				case 2:
					h.m.Accept()
				case 3:
					h.m.Retry()
				case 4:
					h.clock.Advance(time.Duration(op*700) * time.Millisecond)
				case 5:
					h.m.Reset()
				case 6:
					h.sub.err = nil
					_ = h.m.Submit(context.Background(), auth.StaticToken("jwt"))
				case 7:
					h.sub.err = errors.New("down")
					_ = h.m.Submit(context.Background(), auth.StaticToken("jwt"))
				case 8:
					h.m.SetViewport(orientation.Viewport{Width: 600, Height: 800})
				case 9:
					h.m.SetViewport(orientation.Viewport{Width: 800, Height: 600})
				}
				h.m.mu.Lock()
				ok := h.m.session.Consistent()
				enabled := h.m.captureEnabled()
				waiting := h.m.session.State.Waiting()
				h.m.mu.Unlock()
				if !ok || (enabled && !waiting) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 9)),
	))

	properties.TestingRun(t)
}

// TestMachine_HistoryIsMonotonic checks that sequence numbers only grow.
func TestMachine_HistoryIsMonotonic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("transition sequence numbers increase", prop.ForAll(
		func(ops []int) bool {
			h := newHarness(t, blackFrame())
			for _, op := range ops {
				switch op {
				case 0:
					_ = h.m.Start(context.Background())
				case 1:
					h.clock.Advance(3 * time.Second)
					h.m.Capture(overlay)
				case 2:
					h.m.Accept()
				case 3:
					h.m.Retry()
				}
				var prev uint64
				for _, tr := range h.m.History() {
					if tr.Seq <= prev {
						return false
					}
					prev = tr.Seq
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
