package model

import (
	"path/filepath"
	"sort"
)

// ServiceID identifies a service in the workspace registry
type ServiceID string

// Known aspects of a deployed service tree
const (
	AspectSource  = "source"
	AspectScripts = "scripts"
)

// KnownAspects lists the aspect subdirectories probed for manifests
var KnownAspects = []string{AspectSource, AspectScripts}

// ManifestEntry is one file record of a manifest file on disk
type ManifestEntry struct {
	Size int64 `json:"size"`
}

// AspectManifest holds the file sizes of one service aspect
type AspectManifest struct {
	BasePath string           `json:"basePath"` // Origin directory of the relative paths
	Aspect   string           `json:"aspect"`   // "source", "scripts", ...
	Sizes    map[string]int64 `json:"sizes"`    // Relative path -> last detected size
}

// AbsPath resolves a manifest-relative path against the origin directory
func (m *AspectManifest) AbsPath(relPath string) string {
	return filepath.Join(m.BasePath, filepath.FromSlash(relPath))
}

// RelPaths returns the manifest paths in a stable order
func (m *AspectManifest) RelPaths() []string {
	paths := make([]string, 0, len(m.Sizes))
	for p := range m.Sizes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Index maps each enabled service to its loaded aspect manifests
type Index map[ServiceID][]*AspectManifest

// PathCount returns the number of indexed files
func (idx Index) PathCount() int {
	count := 0
	for _, manifests := range idx {
		for _, m := range manifests {
			count += len(m.Sizes)
		}
	}
	return count
}

// ServiceIDs returns the indexed services in a stable order
func (idx Index) ServiceIDs() []ServiceID {
	ids := make([]ServiceID, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
