package service

import (
	"sort"
	"sync"
	"time"

	"github.com/ajkula/GoPIO/domain/model"
)

// trackedFile locates one indexed path inside its manifest
type trackedFile struct {
	serviceID model.ServiceID
	manifest  *model.AspectManifest
	relPath   string
	absPath   string
}

func (f *trackedFile) task(previousSize int64) model.ChangeTask {
	return model.ChangeTask{
		ServiceID:    f.serviceID,
		Aspect:       f.manifest.Aspect,
		RelPath:      f.relPath,
		AbsPath:      f.absPath,
		PreviousSize: previousSize,
	}
}

// syncState owns the index, shortlist and pending buffer.
// Every read and write goes through mu.
type syncState struct {
	mu        sync.Mutex
	index     model.Index
	files     map[string]*trackedFile
	order     []string
	shortlist map[string]struct{}
	pending   map[string]model.ChangeTask
	flushDue  time.Time
	digests   map[string][32]byte
}

func newSyncState() *syncState {
	return &syncState{
		index:     make(model.Index),
		files:     make(map[string]*trackedFile),
		shortlist: make(map[string]struct{}),
		pending:   make(map[string]model.ChangeTask),
		digests:   make(map[string][32]byte),
	}
}

// reset swaps in a freshly loaded index and clears the shortlist. Paths still
// pending stay hot while they remain indexed; the pending buffer survives.
func (s *syncState) reset(index model.Index) {
	files := make(map[string]*trackedFile, index.PathCount())
	for id, manifests := range index {
		for _, m := range manifests {
			for relPath := range m.Sizes {
				abs := m.AbsPath(relPath)
				files[abs] = &trackedFile{
					serviceID: id,
					manifest:  m,
					relPath:   relPath,
					absPath:   abs,
				}
			}
		}
	}
	order := make([]string, 0, len(files))
	for abs := range files {
		order = append(order, abs)
	}
	sort.Strings(order)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	s.files = files
	s.order = order
	s.digests = make(map[string][32]byte)
	s.shortlist = make(map[string]struct{}, len(s.pending))
	for abs := range s.pending {
		if _, indexed := files[abs]; indexed {
			s.shortlist[abs] = struct{}{}
		}
	}
}

// candidates selects the paths a tick of the given mode must check.
// Hot paths go to SHORTLIST, every other indexed path to COMPLETE.
func (s *syncState) candidates(mode model.ScanMode) []*trackedFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*trackedFile
	for _, abs := range s.order {
		_, hot := s.shortlist[abs]
		if hot == (mode == model.ScanShortlist) {
			out = append(out, s.files[abs])
		}
	}
	return out
}

func (s *syncState) isHot(absPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hot := s.shortlist[absPath]
	return hot
}

// observeSize records a stat result and returns a task when the size drifted
func (s *syncState) observeSize(f *trackedFile, size int64) (model.ChangeTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := f.manifest.Sizes[f.relPath]
	if previous == size {
		return model.ChangeTask{}, false
	}
	f.manifest.Sizes[f.relPath] = size
	delete(s.digests, f.absPath)
	return f.task(previous), true
}

// observeDigest records a content digest. The first digest of a path is the baseline.
func (s *syncState) observeDigest(f *trackedFile, digest [32]byte) (model.ChangeTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, known := s.digests[f.absPath]
	s.digests[f.absPath] = digest
	if !known || previous == digest {
		return model.ChangeTask{}, false
	}
	return f.task(f.manifest.Sizes[f.relPath]), true
}

// promote moves an indexed path to the fast cadence
func (s *syncState) promote(absPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, indexed := s.files[absPath]; !indexed {
		return false
	}
	if _, hot := s.shortlist[absPath]; hot {
		return false
	}
	s.shortlist[absPath] = struct{}{}
	return true
}

// stage puts a task in the pending buffer, replacing any earlier task for the
// same path. It returns true when the caller must arm the flush timer.
func (s *syncState) stage(task model.ChangeTask, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stageLocked(task, window)
}

// stageRetry stages a failed task again unless a newer detection of the same
// path is already pending. staged is false when the retry was superseded.
func (s *syncState) stageRetry(task model.ChangeTask, window time.Duration) (staged, arm bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, newer := s.pending[task.AbsPath]; newer {
		return false, false
	}
	return true, s.stageLocked(task, window)
}

func (s *syncState) stageLocked(task model.ChangeTask, window time.Duration) bool {
	s.shortlist[task.AbsPath] = struct{}{}
	s.pending[task.AbsPath] = task
	if !s.flushDue.IsZero() {
		return false
	}
	s.flushDue = time.Now().Add(window)
	return true
}

// due returns the armed flush deadline, zero when none is armed
func (s *syncState) due() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushDue
}

// drain swaps the pending buffer for an empty one and disarms the flush deadline
func (s *syncState) drain() []model.ChangeTask {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]model.ChangeTask)
	s.flushDue = time.Time{}
	s.mu.Unlock()

	batch := make([]model.ChangeTask, 0, len(pending))
	for _, task := range pending {
		batch = append(batch, task)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].AbsPath < batch[j].AbsPath })
	return batch
}

// watchedFiles returns every indexed absolute path
func (s *syncState) watchedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

type stateSnapshot struct {
	services  int
	paths     int
	shortlist int
	pending   int
	flushDue  time.Time
}

func (s *syncState) snapshot() stateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stateSnapshot{
		services:  len(s.index),
		paths:     len(s.files),
		shortlist: len(s.shortlist),
		pending:   len(s.pending),
		flushDue:  s.flushDue,
	}
}
