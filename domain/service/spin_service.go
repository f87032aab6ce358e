package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

// SpinOptions tunes the sync watcher
type SpinOptions struct {
	ShortlistInterval time.Duration
	CompleteInterval  time.Duration
	QuietWindow       time.Duration
	StatConcurrency   int
	UploadConcurrency int
	CallTimeout       time.Duration
	RemoteRoot        string
	Denylist          []string
	HashShortlist     bool
	MaxAttempts       int // Flushes a retryable failure may take part in
	Verbose           bool
}

func DefaultSpinOptions() SpinOptions {
	return SpinOptions{
		ShortlistInterval: 1 * time.Second,
		CompleteInterval:  5 * time.Second,
		QuietWindow:       1 * time.Second,
		StatConcurrency:   30,
		UploadConcurrency: 8,
		CallTimeout:       30 * time.Second,
		RemoteRoot:        DefaultRemoteRoot,
		Denylist:          DefaultDenylist,
		MaxAttempts:       3,
	}
}

// HintWatcherFactory opens a file system watcher used to promote paths early
type HintWatcherFactory func() (outbound.FileWatcher, error)

type spinService struct {
	opts         SpinOptions
	registry     outbound.ServiceRegistry
	loader       *ManifestLoader
	state        *syncState
	scanner      *ChangeScanner
	aggregator   *ChangeAggregator
	dispatcher   *SyncDispatcher
	hintsFactory HintWatcherFactory
	logger       outbound.Logger

	mu          sync.Mutex
	running     bool
	startedAt   time.Time
	runCtx      context.Context
	cancel      context.CancelFunc
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	fatal       chan error
	hints       outbound.FileWatcher
	hintsDone   chan struct{}
	restarts    int
	flushes     int
	lastFlush   *model.FlushReport
	subscribers map[int]chan *model.FlushReport
	nextSub     int
}

func NewSpinService(
	opts SpinOptions,
	registry outbound.ServiceRegistry,
	orchestrator outbound.Orchestrator,
	hintsFactory HintWatcherFactory,
	logger outbound.Logger,
) *spinService {
	state := newSyncState()
	dispatcher := NewSyncDispatcher(orchestrator, logger, opts.UploadConcurrency, opts.CallTimeout, opts.RemoteRoot)
	aggregator := NewChangeAggregator(state, dispatcher, logger, opts.QuietWindow)
	scanner := NewChangeScanner(state, aggregator, logger, opts.StatConcurrency, opts.Denylist, opts.HashShortlist)

	s := &spinService{
		opts:         opts,
		registry:     registry,
		loader:       NewManifestLoader(logger, opts.Verbose),
		state:        state,
		scanner:      scanner,
		aggregator:   aggregator,
		dispatcher:   dispatcher,
		hintsFactory: hintsFactory,
		logger:       logger,
		subscribers:  make(map[int]chan *model.FlushReport),
	}
	dispatcher.setLoop(s)
	aggregator.OnFlush(s.handleFlush)
	return s
}

// Start loads the index and starts both scan timers. ctx bounds the watcher lifetime.
func (s *spinService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return model.ErrWatcherRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.runCtx = runCtx
	s.cancel = cancel
	s.fatal = make(chan error, 1)
	s.mu.Unlock()

	s.logger.Info("Starting spin watcher")
	hints := s.openHints()
	err := s.rebuild(runCtx, hints)

	s.mu.Lock()
	// a Stop during the index load owns the teardown, a later Start owns the state
	owner := s.running && s.runCtx == runCtx
	if err != nil {
		err = fmt.Errorf("failed to build index: %w", err)
	} else if !owner || runCtx.Err() != nil {
		err = model.ErrWatcherStopped
	}
	if err != nil {
		if owner {
			s.running = false
		}
		s.mu.Unlock()
		cancel()
		if hints != nil {
			hints.Stop()
		}
		return err
	}

	s.startedAt = time.Now()
	s.hints = hints
	if hints != nil {
		s.hintsDone = make(chan struct{})
		go s.consumeHints(runCtx, hints, s.hintsDone)
	}
	s.aggregator.start(runCtx)
	s.startLoopLocked()
	s.mu.Unlock()

	snap := s.state.snapshot()
	s.logger.Info("Spin watcher started", "services", snap.services, "paths", snap.paths)
	return nil
}

// Stop cancels the scan loop and the flush timer, then waits for in-flight work
func (s *spinService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	loopDone := s.loopDone
	hints, hintsDone := s.hints, s.hintsDone
	s.loopCancel, s.loopDone = nil, nil
	s.hints, s.hintsDone = nil, nil
	s.mu.Unlock()

	s.logger.Info("Stopping spin watcher")
	if cancel != nil {
		cancel()
	}
	if loopDone != nil {
		<-loopDone
	}
	s.aggregator.stop()

	if hints != nil {
		if err := hints.Stop(); err != nil {
			s.logger.Error("Error stopping hint watcher", "error", err)
		}
		<-hintsDone
	}

	s.logger.Info("Spin watcher stopped")
	return nil
}

// Run starts the watcher and blocks until a scan tick fails fatally or ctx is cancelled
func (s *spinService) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	s.mu.Lock()
	runCtx, fatal := s.runCtx, s.fatal
	s.mu.Unlock()

	select {
	case <-runCtx.Done():
		return nil
	case err := <-fatal:
		return err
	}
}

// PauseScanning stops both scan timers and waits for the loop goroutine to return
func (s *spinService) PauseScanning() {
	s.mu.Lock()
	cancel, done := s.loopCancel, s.loopDone
	s.loopCancel, s.loopDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.logger.Debug("Pausing scan loop")
	cancel()
	<-done
}

// RebuildAndResume reloads the index and restarts the scan loop. A failed
// reload keeps the previous index so the loop can still run.
func (s *spinService) RebuildAndResume(ctx context.Context) error {
	s.mu.Lock()
	hints := s.hints
	s.mu.Unlock()

	err := s.rebuild(ctx, hints)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.runCtx.Err() != nil {
		return err
	}
	if s.loopCancel == nil {
		s.startLoopLocked()
		s.restarts++
		s.logger.Info("Scan loop restarted", "restarts", s.restarts)
	}
	return err
}

// Status returns a snapshot of the watcher
func (s *spinService) Status() model.SpinStatus {
	snap := s.state.snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SpinStatus{
		Running:       s.running,
		StartedAt:     s.startedAt,
		Services:      snap.services,
		IndexedPaths:  snap.paths,
		ShortlistSize: snap.shortlist,
		PendingSize:   snap.pending,
		FlushDue:      snap.flushDue,
		ScanModes:     s.scanner.Running(),
		LoopRestarts:  s.restarts,
		Flushes:       s.flushes,
		LastFlush:     s.lastFlush,
	}
}

// Subscribe registers a listener for flush reports. Slow listeners miss reports.
func (s *spinService) Subscribe() (<-chan *model.FlushReport, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan *model.FlushReport, 16)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			close(ch)
		})
	}
}

func (s *spinService) startLoopLocked() {
	loopCtx, loopCancel := context.WithCancel(s.runCtx)
	done := make(chan struct{})
	s.loopCancel, s.loopDone = loopCancel, done
	fatal := s.fatal

	go func() {
		defer close(done)
		err := s.scanner.Run(loopCtx, s.opts.ShortlistInterval, s.opts.CompleteInterval)
		if err == nil {
			return
		}
		s.logger.Error("Scan loop terminated", "error", err)
		select {
		case fatal <- err:
		default:
		}
	}()
}

func (s *spinService) rebuild(ctx context.Context, hints outbound.FileWatcher) error {
	services, err := s.registry.Services(ctx)
	if err != nil {
		return err
	}
	index, err := s.loader.Load(ctx, s.registry.Root(), services)
	if err != nil {
		return err
	}
	s.state.reset(index)

	if hints != nil {
		for _, path := range s.state.watchedFiles() {
			if err := hints.Watch(ctx, path); err != nil {
				s.logger.Warn("Failed to watch directory for hints", "path", path, "error", err)
			}
		}
	}
	return nil
}

func (s *spinService) handleFlush(report *model.FlushReport) {
	s.mu.Lock()
	s.flushes++
	s.lastFlush = report
	for _, ch := range s.subscribers {
		select {
		case ch <- report:
		default:
		}
	}
	s.mu.Unlock()

	for _, task := range report.RetryableTasks() {
		task.Attempt++
		if task.Attempt >= s.opts.MaxAttempts {
			s.logger.Warn("Giving up on file after repeated failures", "path", task.AbsPath, "attempts", task.Attempt)
			continue
		}
		if !s.aggregator.Requeue(task) {
			s.logger.Debug("Retry superseded by a newer change", "path", task.AbsPath)
		}
	}
}

func (s *spinService) openHints() outbound.FileWatcher {
	if s.hintsFactory == nil {
		return nil
	}
	hints, err := s.hintsFactory()
	if err != nil {
		s.logger.Warn("File system hints disabled", "error", err)
		return nil
	}
	return hints
}

// consumeHints promotes indexed paths reported by the file system watcher
func (s *spinService) consumeHints(ctx context.Context, hints outbound.FileWatcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-hints.Events():
			if !ok {
				return
			}
			if s.state.promote(event.FilePath) {
				s.logger.Debug("Promoted path from file system hint", "path", event.FilePath, "type", event.EventType)
			}
		case err, ok := <-hints.Errors():
			if !ok {
				return
			}
			s.logger.Warn("Hint watcher error", "error", err)
		}
	}
}
