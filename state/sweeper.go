package state

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// FlowSweeper runs a Store's SweepExpiredFlows on a fixed cron schedule,
// the same scheduling idiom the TTL reaper uses for its own cleanup
// pass (ttlreaper.Sweeper). Active-flow TTLs already expire lazily on
// read (GetActiveFlow); this sweeper only matters for sessions nobody
// reads again before their TTL elapses, so they don't linger in the map
// forever.
type FlowSweeper struct {
	c       *cron.Cron
	store   *Store
	entryID cron.EntryID
}

// NewFlowSweeper builds a FlowSweeper that runs store.SweepExpiredFlows
// every time schedule fires. schedule is a standard five-field cron
// expression or a descriptor such as "@every 30s".
func NewFlowSweeper(store *Store, schedule string) (*FlowSweeper, error) {
	fs := &FlowSweeper{c: cron.New(), store: store}
	id, err := fs.c.AddFunc(schedule, fs.sweep)
	if err != nil {
		return nil, err
	}
	fs.entryID = id
	return fs, nil
}

func (fs *FlowSweeper) sweep() {
	if n := fs.store.SweepExpiredFlows(); n > 0 {
		slog.Info("state: swept expired active-flow sessions", "count", n)
	}
}

// Start begins the cron runner. It does not block.
func (fs *FlowSweeper) Start() {
	fs.c.Start()
	slog.Info("state: flow sweeper started")
}

// Stop halts the cron runner and waits for any in-flight sweep to finish.
func (fs *FlowSweeper) Stop() {
	<-fs.c.Stop().Done()
	slog.Info("state: flow sweeper stopped")
}
