package state

import (
	"testing"
	"time"
)

func TestFlowSweeperRunsOnSchedule(t *testing.T) {
	s := New()
	s.SetActiveFlow("1", "2", "flow", time.Millisecond)

	sweeper, err := NewFlowSweeper(s, "@every 10ms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, sessions := s.Dump()
		if len(sessions) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("flow sweeper never removed the expired session within the deadline")
}
