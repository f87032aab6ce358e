package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"
	"golang.org/x/sync/errgroup"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

const (
	// syncStateDir is the hidden per-service directory holding the manifests
	syncStateDir     = ".pio.sync"
	manifestFileName = "manifest.json"
)

// ManifestPath returns where the manifest of one service aspect is expected
func ManifestPath(servicePath, aspect string) string {
	return filepath.Join(servicePath, syncStateDir, aspect, manifestFileName)
}

// ManifestLoader builds the in-memory index from the manifests on disk
type ManifestLoader struct {
	logger  outbound.Logger
	aspects []string
	verbose bool
}

func NewManifestLoader(logger outbound.Logger, verbose bool) *ManifestLoader {
	return &ManifestLoader{
		logger:  logger,
		aspects: model.KnownAspects,
		verbose: verbose,
	}
}

// Load reads the manifests of every enabled service concurrently.
// The first failing service aborts the whole load.
func (l *ManifestLoader) Load(ctx context.Context, root string, services []*model.Service) (model.Index, error) {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	index := make(model.Index)

	for _, svc := range services {
		svc := svc
		if !svc.Enabled {
			continue
		}
		g.Go(func() error {
			manifests, err := l.loadService(gctx, root, svc)
			if err != nil {
				return err
			}
			if len(manifests) == 0 {
				return nil
			}
			mu.Lock()
			index[svc.ID] = manifests
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.logger.Info("Manifest index loaded", "services", len(index), "paths", index.PathCount())
	if l.verbose {
		l.dump(index)
	}
	return index, nil
}

func (l *ManifestLoader) loadService(ctx context.Context, root string, svc *model.Service) ([]*model.AspectManifest, error) {
	servicePath := svc.Path
	if !filepath.IsAbs(servicePath) {
		servicePath = filepath.Join(root, servicePath)
	}

	var manifests []*model.AspectManifest
	for _, aspect := range l.aspects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		manifestPath := ManifestPath(servicePath, aspect)
		sizes, err := readManifest(manifestPath)
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Debug("No manifest for aspect", "service", svc.ID, "aspect", aspect)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.ID, err)
		}

		manifests = append(manifests, &model.AspectManifest{
			BasePath: aspectBasePath(servicePath, aspect),
			Aspect:   aspect,
			Sizes:    sizes,
		})
	}
	return manifests, nil
}

// aspectBasePath falls back to the service directory when the aspect directory is absent
func aspectBasePath(servicePath, aspect string) string {
	dir := filepath.Join(servicePath, aspect)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return servicePath
}

func readManifest(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries map[string]model.ManifestEntry
	if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrManifestInvalid, path, err)
	}
	if entries == nil {
		return nil, fmt.Errorf("%w: %s: not an object", model.ErrManifestInvalid, path)
	}

	sizes := make(map[string]int64, len(entries))
	for relPath, entry := range entries {
		sizes[relPath] = entry.Size
	}
	return sizes, nil
}

func (l *ManifestLoader) dump(index model.Index) {
	for _, id := range index.ServiceIDs() {
		for _, m := range index[id] {
			data, err := json.Marshal(m.Sizes)
			if err != nil {
				continue
			}
			l.logger.Info("Indexed aspect",
				"service", id,
				"aspect", m.Aspect,
				"basePath", m.BasePath,
				"files", len(m.Sizes),
				"sizes", string(data))
		}
	}
}
