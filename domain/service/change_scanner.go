package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

// DefaultDenylist holds bookkeeping files rewritten by tooling on every run.
// Their size churn does not reflect a source change.
var DefaultDenylist = []string{".smi-for-npm", ".pio.json"}

type changeNotifier interface {
	Notify(task model.ChangeTask)
}

// ChangeScanner re-stats indexed files and reports size drift
type ChangeScanner struct {
	state         *syncState
	notifier      changeNotifier
	logger        outbound.Logger
	width         int
	denylist      map[string]struct{}
	hashShortlist bool

	// running[mode] is set while a tick of that mode is in progress
	running [2]atomic.Bool
	dropped [2]atomic.Int64

	stat     func(name string) (os.FileInfo, error)
	readFile func(name string) ([]byte, error)
}

func NewChangeScanner(
	state *syncState,
	notifier changeNotifier,
	logger outbound.Logger,
	width int,
	denylist []string,
	hashShortlist bool,
) *ChangeScanner {
	if width < 1 {
		width = 1
	}
	deny := make(map[string]struct{}, len(denylist))
	for _, name := range denylist {
		deny[name] = struct{}{}
	}
	return &ChangeScanner{
		state:         state,
		notifier:      notifier,
		logger:        logger,
		width:         width,
		denylist:      deny,
		hashShortlist: hashShortlist,
		stat:          os.Stat,
		readFile:      os.ReadFile,
	}
}

// Tick runs one scan of the given mode. It returns ran=false without doing
// anything when a tick of the same mode is still in progress.
func (s *ChangeScanner) Tick(ctx context.Context, mode model.ScanMode) (ran bool, err error) {
	if !s.running[mode].CompareAndSwap(false, true) {
		s.dropped[mode].Add(1)
		s.logger.Debug("Scan tick dropped, previous tick still running", "mode", mode)
		return false, nil
	}
	defer s.running[mode].Store(false)

	targets := s.state.candidates(mode)
	if len(targets) == 0 {
		return true, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.width)
	for _, f := range targets {
		f := f
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return s.check(gctx, mode, f)
		})
	}
	return true, g.Wait()
}

// Running lists the modes with a tick in progress
func (s *ChangeScanner) Running() []string {
	var modes []string
	for _, mode := range []model.ScanMode{model.ScanShortlist, model.ScanComplete} {
		if s.running[mode].Load() {
			modes = append(modes, mode.String())
		}
	}
	return modes
}

// Dropped returns how many ticks of mode were skipped because one was already running
func (s *ChangeScanner) Dropped(mode model.ScanMode) int64 {
	return s.dropped[mode].Load()
}

func (s *ChangeScanner) check(ctx context.Context, mode model.ScanMode, f *trackedFile) error {
	if ctx.Err() != nil {
		return nil
	}
	if _, denied := s.denylist[filepath.Base(f.absPath)]; denied {
		return nil
	}
	// promoted after candidate selection; the fast cadence owns it now
	if mode == model.ScanComplete && s.state.isHot(f.absPath) {
		return nil
	}

	info, err := s.stat(f.absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %s tick: %w", model.ErrScanFailed, mode, err)
	}

	if task, changed := s.state.observeSize(f, info.Size()); changed {
		s.logger.Debug("Size drift detected",
			"service", task.ServiceID,
			"path", task.RelPath,
			"previousSize", task.PreviousSize,
			"size", info.Size())
		s.notifier.Notify(task)
		return nil
	}

	if mode == model.ScanShortlist && s.hashShortlist && info.Mode().IsRegular() {
		s.checkDigest(f)
	}
	return nil
}

// checkDigest catches same-size edits on hot files
func (s *ChangeScanner) checkDigest(f *trackedFile) {
	data, err := s.readFile(f.absPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to hash hot file", "path", f.absPath, "error", err)
		}
		return
	}
	if task, changed := s.state.observeDigest(f, blake3.Sum256(data)); changed {
		s.logger.Debug("Content drift detected", "service", task.ServiceID, "path", task.RelPath)
		s.notifier.Notify(task)
	}
}

// Run drives both scan modes until ctx is cancelled or a tick fails.
// A cancelled ctx returns nil. Run returns only after in-flight ticks finish.
func (s *ChangeScanner) Run(ctx context.Context, shortlistEvery, completeEvery time.Duration) error {
	fast := time.NewTicker(shortlistEvery)
	defer fast.Stop()
	slow := time.NewTicker(completeEvery)
	defer slow.Stop()

	tickCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	errs := make(chan error, 2)
	tick := func(mode model.ScanMode) {
		defer wg.Done()
		if _, err := s.Tick(tickCtx, mode); err != nil && tickCtx.Err() == nil {
			select {
			case errs <- err:
			default:
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fast.C:
			wg.Add(1)
			go tick(model.ScanShortlist)
		case <-slow.C:
			wg.Add(1)
			go tick(model.ScanComplete)
		case err := <-errs:
			return err
		}
	}
}
