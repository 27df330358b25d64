package jobs

import (
	"context"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/KolosalAI/kolosal-agent/types"
)

// Every submitted job is accounted for in exactly one lifecycle bucket, and
// once the pool drains, everything submitted is terminal.
func TestLifecycleConservationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		exec := execFunc(func(_ context.Context, name string, _ types.AgentData) types.FunctionResult {
			if name == "fail" {
				return types.Fail("deliberate")
			}
			return types.OK(types.NoneValue())
		})
		m := NewManager("a1", Config{Workers: rapid.IntRange(1, 4).Draw(t, "workers")}, exec, zap.NewNop(), nil)
		m.Start()
		defer m.Stop()

		n := rapid.IntRange(1, 40).Draw(t, "n")
		ids := make([]string, 0, n)
		for i := 0; i < n; i++ {
			name := rapid.SampledFrom([]string{"ok", "fail"}).Draw(t, "fn")
			priority := rapid.IntRange(-5, 5).Draw(t, "priority")
			id, err := m.Submit(name, nil, priority, "prop")
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			ids = append(ids, id)

			s := m.Stats()
			total := uint64(s.Pending+s.Running) + s.Completed + s.Failed + s.Cancelled
			if total != s.Submitted {
				t.Fatalf("conservation violated mid-flight: %+v", s)
			}
		}

		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			s := m.Stats()
			if s.Pending == 0 && s.Running == 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}

		s := m.Stats()
		if s.Pending != 0 || s.Running != 0 {
			t.Fatalf("pool did not drain: %+v", s)
		}
		if s.Completed+s.Failed+s.Cancelled != uint64(n) {
			t.Fatalf("terminal count %d, want %d", s.Completed+s.Failed+s.Cancelled, n)
		}
		for _, id := range ids {
			job, err := m.Status(id)
			if err != nil {
				t.Fatalf("status %s: %v", id, err)
			}
			if !job.Status.IsTerminal() {
				t.Fatalf("job %s not terminal: %s", id, job.Status)
			}
			if job.FinishedAt == nil {
				t.Fatalf("job %s terminal without finish time", id)
			}
		}
	})
}

// With a single blocked worker, queued jobs are released strictly by
// (priority desc, enqueue order asc).
func TestPriorityDrainOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		type event struct {
			name string
		}
		done := make(chan event, 64)
		gate := make(chan struct{})
		exec := execFunc(func(ctx context.Context, name string, _ types.AgentData) types.FunctionResult {
			if name == "gate" {
				select {
				case <-gate:
				case <-ctx.Done():
				}
				return types.OK(types.NoneValue())
			}
			done <- event{name: name}
			return types.OK(types.NoneValue())
		})

		m := NewManager("a1", Config{Workers: 1}, exec, zap.NewNop(), nil)
		m.Start()
		defer m.Stop()

		gateID, err := m.Submit("gate", nil, 1000, "prop")
		if err != nil {
			t.Fatalf("submit gate: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			job, err := m.Status(gateID)
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if job.Status == types.JobRunning {
				break
			}
			time.Sleep(time.Millisecond)
		}

		n := rapid.IntRange(1, 20).Draw(t, "n")
		type submitted struct {
			name     string
			priority int
			order    int
		}
		subs := make([]submitted, 0, n)
		for i := 0; i < n; i++ {
			priority := rapid.IntRange(0, 3).Draw(t, "priority")
			name := string(rune('a' + i))
			if _, err := m.Submit(name, nil, priority, "prop"); err != nil {
				t.Fatalf("submit: %v", err)
			}
			subs = append(subs, submitted{name: name, priority: priority, order: i})
		}
		close(gate)

		got := make([]string, 0, n)
		for len(got) < n {
			select {
			case ev := <-done:
				got = append(got, ev.name)
			case <-time.After(5 * time.Second):
				t.Fatalf("drained %d of %d", len(got), n)
			}
		}

		// Expected order: stable sort by priority descending.
		want := append([]submitted(nil), subs...)
		sort.SliceStable(want, func(i, j int) bool { return want[i].priority > want[j].priority })
		for i := range want {
			if got[i] != want[i].name {
				t.Fatalf("drain order mismatch at %d: got %v, want %v", i, got, want)
			}
		}
	})
}
