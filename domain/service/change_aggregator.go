package service

import (
	"context"
	"sync"
	"time"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

type batchDispatcher interface {
	Dispatch(ctx context.Context, batch []model.ChangeTask) *model.FlushReport
}

// ChangeAggregator coalesces change notifications into one flush per quiet window.
// The window is armed by the first notification and never extended.
type ChangeAggregator struct {
	state      *syncState
	dispatcher batchDispatcher
	logger     outbound.Logger
	window     time.Duration
	onFlush    func(*model.FlushReport)

	mu      sync.Mutex
	ctx     context.Context
	timer   *time.Timer
	stopped bool
	flushes sync.WaitGroup
}

func NewChangeAggregator(
	state *syncState,
	dispatcher batchDispatcher,
	logger outbound.Logger,
	window time.Duration,
) *ChangeAggregator {
	return &ChangeAggregator{
		state:      state,
		dispatcher: dispatcher,
		logger:     logger,
		window:     window,
		ctx:        context.Background(),
	}
}

// OnFlush registers the callback receiving every flush report
func (a *ChangeAggregator) OnFlush(fn func(*model.FlushReport)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onFlush = fn
}

// start binds dispatches to ctx and re-arms a deadline left over from a previous run
func (a *ChangeAggregator) start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctx = ctx
	a.stopped = false
	if due := a.state.due(); !due.IsZero() {
		a.armLocked(time.Until(due))
	}
}

// stop disarms the flush timer and waits for in-flight flushes
func (a *ChangeAggregator) stop() {
	a.mu.Lock()
	a.stopped = true
	if a.timer != nil && a.timer.Stop() {
		a.flushes.Done()
	}
	a.timer = nil
	a.mu.Unlock()

	a.flushes.Wait()
}

func (a *ChangeAggregator) armLocked(after time.Duration) {
	a.flushes.Add(1)
	a.timer = time.AfterFunc(after, func() {
		defer a.flushes.Done()
		a.flush()
	})
}

// Notify promotes the path to the shortlist and stages the task for the next flush
func (a *ChangeAggregator) Notify(task model.ChangeTask) {
	if a.state.stage(task, a.window) {
		a.arm()
	}
}

// Requeue stages a failed task for another attempt. It reports false and
// drops the task when a newer change of the same path is already pending.
func (a *ChangeAggregator) Requeue(task model.ChangeTask) bool {
	staged, arm := a.state.stageRetry(task, a.window)
	if arm {
		a.arm()
	}
	return staged
}

func (a *ChangeAggregator) arm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.armLocked(a.window)
}

func (a *ChangeAggregator) flush() {
	batch := a.state.drain()

	a.mu.Lock()
	ctx := a.ctx
	onFlush := a.onFlush
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	a.logger.Info("Flushing pending changes", "files", len(batch))
	report := a.dispatcher.Dispatch(ctx, batch)
	if report == nil {
		return
	}
	if onFlush != nil {
		onFlush(report)
	}
}
