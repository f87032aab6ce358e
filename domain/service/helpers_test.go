package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajkula/GoPIO/domain/model"
)

type nopLogger struct{}

func (nopLogger) Error(msg string, args ...any) {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Debug(msg string, args ...any) {}

func boolPtr(b bool) *bool { return &b }

type putCall struct {
	Path string
	Body []byte
}

// fakeOrchestrator records every call. respond decides the _putFile answer per target path.
type fakeOrchestrator struct {
	mu       sync.Mutex
	puts     []putCall
	ensures  []string
	deploys  int
	restarts []model.ServiceID
	respond  func(path string) (*bool, error)
	delay    time.Duration

	inFlight    int
	maxInFlight int

	restartErr map[model.ServiceID]error
}

func (f *fakeOrchestrator) Ensure(ctx context.Context, selector string, opts model.EnsureOptions) (model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures = append(f.ensures, selector)
	return model.Result{}, nil
}

func (f *fakeOrchestrator) Deploy(ctx context.Context) (model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deploys++
	return model.Result{}, nil
}

func (f *fakeOrchestrator) Restart(ctx context.Context, id model.ServiceID) (model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.restartErr[id]; err != nil {
		return nil, err
	}
	f.restarts = append(f.restarts, id)
	return model.Result{}, nil
}

func (f *fakeOrchestrator) Call(ctx context.Context, method string, args map[string]any) (*bool, error) {
	path, _ := args["path"].(string)
	encoded, _ := args["body"].(string)
	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delay
	respond := f.respond
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.puts = append(f.puts, putCall{Path: path, Body: body})
	f.mu.Unlock()

	if respond != nil {
		return respond(path)
	}
	return boolPtr(true), nil
}

func (f *fakeOrchestrator) putPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.puts))
	for _, p := range f.puts {
		paths = append(paths, p.Path)
	}
	sort.Strings(paths)
	return paths
}

func (f *fakeOrchestrator) restarted() []model.ServiceID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ServiceID(nil), f.restarts...)
}

func (f *fakeOrchestrator) ensured() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ensures...)
}

func (f *fakeOrchestrator) deployCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deploys
}

type fakeRegistry struct {
	root     string
	services []*model.Service
}

func (r *fakeRegistry) Root() string { return r.root }

func (r *fakeRegistry) Services(ctx context.Context) ([]*model.Service, error) {
	return r.services, nil
}

// writeSized creates path with exactly size bytes
func writeSized(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("a", size)), 0644))
}

func writeManifest(t *testing.T, servicePath, aspect string, sizes map[string]int64) {
	t.Helper()
	entries := make(map[string]model.ManifestEntry, len(sizes))
	for rel, size := range sizes {
		entries[rel] = model.ManifestEntry{Size: size}
	}
	data, err := json.Marshal(entries)
	require.NoError(t, err)

	path := ManifestPath(servicePath, aspect)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// singleServiceIndex indexes a "source" aspect of service "web" rooted at dir
func singleServiceIndex(dir string, sizes map[string]int64) model.Index {
	return model.Index{
		"web": {
			{BasePath: dir, Aspect: model.AspectSource, Sizes: sizes},
		},
	}
}

// recordingNotifier collects notifications without promoting paths
type recordingNotifier struct {
	mu    sync.Mutex
	tasks []model.ChangeTask
}

func (r *recordingNotifier) Notify(task model.ChangeTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
}

func (r *recordingNotifier) received() []model.ChangeTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChangeTask(nil), r.tasks...)
}
