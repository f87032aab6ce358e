package service

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

type spinFixture struct {
	root    string
	webPath string
	orch    *fakeOrchestrator
	spin    *spinService
}

func fastSpinOptions() SpinOptions {
	opts := DefaultSpinOptions()
	opts.ShortlistInterval = 10 * time.Millisecond
	opts.CompleteInterval = 20 * time.Millisecond
	opts.QuietWindow = 30 * time.Millisecond
	opts.CallTimeout = time.Second
	return opts
}

// newSpinFixture lays out a workspace with one "web" service whose source
// aspect lists the given files, each created with its recorded size
func newSpinFixture(t *testing.T, sizes map[string]int64, opts SpinOptions, hints HintWatcherFactory) *spinFixture {
	t.Helper()
	root := t.TempDir()
	web := filepath.Join(root, "web")
	for rel, size := range sizes {
		writeSized(t, filepath.Join(web, "source", rel), int(size))
	}
	writeManifest(t, web, model.AspectSource, sizes)

	orch := &fakeOrchestrator{}
	registry := &fakeRegistry{
		root:     root,
		services: []*model.Service{{ID: "web", Path: "web", Enabled: true}},
	}
	return &spinFixture{
		root:    root,
		webPath: web,
		orch:    orch,
		spin:    NewSpinService(opts, registry, orch, hints, nopLogger{}),
	}
}

func (f *spinFixture) source(rel string) string {
	return filepath.Join(f.webPath, "source", rel)
}

func TestSpinService_UploadsAndRestartsOnChange(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5, "/lib.js": 3}, fastSpinOptions(), nil)
	require.NoError(t, f.spin.Start(context.Background()))
	defer f.spin.Stop()

	status := f.spin.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.Services)
	assert.Equal(t, 2, status.IndexedPaths)

	writeSized(t, f.source("app.js"), 9)

	assert.Eventually(t, func() bool {
		return len(f.orch.restarted()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"/opt/services/web/live/source/app.js"}, f.orch.putPaths())
	assert.Equal(t, []model.ServiceID{"web"}, f.orch.restarted())

	status = f.spin.Status()
	assert.Equal(t, 1, status.Flushes)
	assert.Equal(t, 1, status.ShortlistSize, "changed path promoted to the shortlist")
	require.NotNil(t, status.LastFlush)
	assert.Equal(t, []model.ServiceID{"web"}, status.LastFlush.Restarted)
}

func TestSpinService_StartTwiceFails(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, fastSpinOptions(), nil)
	require.NoError(t, f.spin.Start(context.Background()))
	defer f.spin.Stop()

	assert.ErrorIs(t, f.spin.Start(context.Background()), model.ErrWatcherRunning)
}

func TestSpinService_StartFailsOnInvalidManifest(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, fastSpinOptions(), nil)
	require.NoError(t, os.WriteFile(ManifestPath(f.webPath, model.AspectSource), []byte("[1,2"), 0644))

	err := f.spin.Start(context.Background())
	assert.ErrorIs(t, err, model.ErrManifestInvalid)
	assert.False(t, f.spin.Status().Running)

	// a failed start leaves the watcher startable
	writeManifest(t, f.webPath, model.AspectSource, map[string]int64{"/app.js": 5})
	require.NoError(t, f.spin.Start(context.Background()))
	assert.NoError(t, f.spin.Stop())
}

func TestSpinService_StopIsIdempotent(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, fastSpinOptions(), nil)
	assert.NoError(t, f.spin.Stop())

	require.NoError(t, f.spin.Start(context.Background()))
	assert.NoError(t, f.spin.Stop())
	assert.NoError(t, f.spin.Stop())
	assert.False(t, f.spin.Status().Running)
}

// gatedRegistry holds Services until release is closed
type gatedRegistry struct {
	*fakeRegistry
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRegistry) Services(ctx context.Context) ([]*model.Service, error) {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return r.fakeRegistry.Services(ctx)
}

func TestSpinService_StopDuringIndexLoadAbortsStart(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, fastSpinOptions(), nil)
	base := f.spin.registry.(*fakeRegistry)
	gate := &gatedRegistry{fakeRegistry: base, entered: make(chan struct{}, 1), release: make(chan struct{})}
	f.spin.registry = gate

	started := make(chan error, 1)
	go func() {
		started <- f.spin.Start(context.Background())
	}()
	<-gate.entered

	assert.NotPanics(t, func() {
		assert.NoError(t, f.spin.Stop())
	})
	close(gate.release)

	select {
	case err := <-started:
		assert.ErrorIs(t, err, model.ErrWatcherStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	f.spin.mu.Lock()
	loopCancel := f.spin.loopCancel
	f.spin.mu.Unlock()
	assert.Nil(t, loopCancel, "no scan loop is left behind")
	assert.False(t, f.spin.Status().Running)
	assert.Empty(t, f.spin.Status().ScanModes)

	f.spin.registry = base
	require.NoError(t, f.spin.Start(context.Background()))
	assert.NoError(t, f.spin.Stop())
}

func TestSpinService_RunReturnsScanFailure(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, fastSpinOptions(), nil)
	f.spin.scanner.stat = func(name string) (os.FileInfo, error) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: errors.New("input/output error")}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- f.spin.Run(context.Background()) }()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, model.ErrScanFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after a fatal scan error")
	}
	assert.False(t, f.spin.Status().Running)
}

func TestSpinService_RunReturnsNilOnCancel(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, fastSpinOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.spin.Run(ctx) }()

	assert.Eventually(t, func() bool { return f.spin.Status().Running }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestSpinService_StructuralChangeRestartsLoop(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5, "/assets": 1}, fastSpinOptions(), nil)
	require.NoError(t, os.Remove(f.source("assets")))
	require.NoError(t, f.spin.Start(context.Background()))
	defer f.spin.Stop()

	require.NoError(t, os.MkdirAll(f.source("assets"), 0755))

	assert.Eventually(t, func() bool {
		return f.spin.Status().LoopRestarts >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, f.orch.deployCount(), 1)
	assert.Contains(t, f.orch.ensured(), "web")
	assert.Empty(t, f.orch.putPaths())
	assert.True(t, f.spin.Status().Running)
}

func TestSpinService_SubscribersReceiveFlushReports(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, fastSpinOptions(), nil)
	reports, unsubscribe := f.spin.Subscribe()

	require.NoError(t, f.spin.Start(context.Background()))
	defer f.spin.Stop()

	writeSized(t, f.source("app.js"), 6)

	select {
	case report := <-reports:
		assert.Equal(t, 1, report.Count(model.SyncUploaded))
		assert.Equal(t, []model.ServiceID{"web"}, report.Restarted)
	case <-time.After(2 * time.Second):
		t.Fatal("no flush report received")
	}

	unsubscribe()
	unsubscribe()
	_, open := <-reports
	assert.False(t, open)
}

func TestSpinService_RetriesTransientFailures(t *testing.T) {
	opts := fastSpinOptions()
	opts.MaxAttempts = 3
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, opts, nil)
	f.orch.respond = func(string) (*bool, error) { return nil, nil }

	require.NoError(t, f.spin.Start(context.Background()))
	defer f.spin.Stop()

	writeSized(t, f.source("app.js"), 7)

	assert.Eventually(t, func() bool {
		return len(f.orch.putPaths()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	// the third failure exhausts the attempts
	time.Sleep(10 * opts.QuietWindow)
	assert.Len(t, f.orch.putPaths(), 3)
	assert.Empty(t, f.orch.restarted())
	assert.Equal(t, 3, f.spin.Status().Flushes)
}

func TestSpinService_RetryKeepsNewerPendingChange(t *testing.T) {
	opts := fastSpinOptions()
	opts.QuietWindow = time.Hour
	opts.MaxAttempts = 3
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, opts, nil)
	require.NoError(t, f.spin.rebuild(context.Background(), nil))
	defer f.spin.aggregator.stop()

	newer := model.ChangeTask{
		ServiceID:    "web",
		Aspect:       model.AspectSource,
		RelPath:      "/app.js",
		AbsPath:      f.source("app.js"),
		PreviousSize: 9,
	}
	stale := newer
	stale.PreviousSize = 7
	report := model.NewFlushReport("batch-1")
	report.Record(model.FailedOutcome(stale, "/opt/services/web/live/source/app.js", model.ErrRemoteUnreachable))

	f.spin.aggregator.Notify(newer)
	f.spin.handleFlush(report)

	batch := f.spin.state.drain()
	require.Len(t, batch, 1)
	assert.Equal(t, int64(9), batch[0].PreviousSize, "the scanner's newer task wins")
	assert.Zero(t, batch[0].Attempt)

	f.spin.handleFlush(report)
	batch = f.spin.state.drain()
	require.Len(t, batch, 1)
	assert.Equal(t, int64(7), batch[0].PreviousSize)
	assert.Equal(t, 1, batch[0].Attempt)
}

func TestSpinService_RecoversAfterTransientFailure(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, fastSpinOptions(), nil)
	var calls int
	var mu sync.Mutex
	f.orch.respond = func(string) (*bool, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, nil
		}
		return boolPtr(true), nil
	}

	require.NoError(t, f.spin.Start(context.Background()))
	defer f.spin.Stop()

	writeSized(t, f.source("app.js"), 8)

	assert.Eventually(t, func() bool {
		return len(f.orch.restarted()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, f.orch.putPaths(), 2)
}

// fakeHints is a FileWatcher driven by the test
type fakeHints struct {
	mu      sync.Mutex
	watched []string
	events  chan outbound.FileChangeEvent
	errs    chan error
	stopped bool
}

func newFakeHints() *fakeHints {
	return &fakeHints{
		events: make(chan outbound.FileChangeEvent, 8),
		errs:   make(chan error, 1),
	}
}

func (h *fakeHints) Watch(ctx context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watched = append(h.watched, path)
	return nil
}

func (h *fakeHints) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

func (h *fakeHints) Events() <-chan outbound.FileChangeEvent { return h.events }
func (h *fakeHints) Errors() <-chan error                    { return h.errs }

func (h *fakeHints) IsWatching() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watched) > 0 && !h.stopped
}

func (h *fakeHints) GetWatchedPaths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.watched...)
}

func TestSpinService_FileSystemHintsPromotePaths(t *testing.T) {
	hints := newFakeHints()
	opts := fastSpinOptions()
	opts.CompleteInterval = time.Hour
	f := newSpinFixture(t, map[string]int64{"/app.js": 5, "/lib.js": 3}, opts, func() (outbound.FileWatcher, error) {
		return hints, nil
	})

	require.NoError(t, f.spin.Start(context.Background()))
	assert.ElementsMatch(t, []string{f.source("app.js"), f.source("lib.js")}, hints.GetWatchedPaths())

	hints.events <- outbound.FileChangeEvent{FilePath: f.source("lib.js"), EventType: "modify"}
	hints.events <- outbound.FileChangeEvent{FilePath: filepath.Join(f.root, "untracked.txt"), EventType: "create"}
	assert.Eventually(t, func() bool {
		return f.spin.Status().ShortlistSize == 1
	}, time.Second, 5*time.Millisecond)

	// only the shortlist cadence runs, so the upload proves the hint took effect
	writeSized(t, f.source("lib.js"), 4)
	assert.Eventually(t, func() bool {
		return len(f.orch.putPaths()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"/opt/services/web/live/source/lib.js"}, f.orch.putPaths())

	require.NoError(t, f.spin.Stop())
	assert.False(t, hints.IsWatching())
}

func TestSpinService_HintFactoryFailureDisablesHints(t *testing.T) {
	f := newSpinFixture(t, map[string]int64{"/app.js": 5}, fastSpinOptions(), func() (outbound.FileWatcher, error) {
		return nil, errors.New("inotify limit reached")
	})

	require.NoError(t, f.spin.Start(context.Background()))
	defer f.spin.Stop()
	assert.True(t, f.spin.Status().Running)
}
