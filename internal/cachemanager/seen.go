package cachemanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zjrosen/tracelake/internal/log"
)

// FileVersion identifies one state of a file on disk. A file that grows or is
// rewritten gets a new version.
type FileVersion struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// VersionKey is the cache key of a FileVersion.
type VersionKey string

// Key returns the cache key for v.
func (v FileVersion) Key() VersionKey {
	return VersionKey(v.Path + "\x00" + strconv.FormatInt(v.Size, 10) + "\x00" + strconv.FormatInt(v.ModTime.UnixNano(), 10))
}

// StatVersion returns the current version of the file at path.
func StatVersion(path string) (FileVersion, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileVersion{}, fmt.Errorf("stat %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return FileVersion{Path: abs, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// SeenSet remembers which file versions have already been ingested.
type SeenSet struct {
	cache CacheManager[VersionKey, time.Time]
	ttl   time.Duration
}

// NewSeenSet creates a set whose entries expire after ttl. A ttl of zero keeps
// entries for the life of the process.
func NewSeenSet(ttl time.Duration) *SeenSet {
	if ttl <= 0 {
		ttl = NoExpiration
	}
	return &SeenSet{
		cache: NewInMemoryCacheManager[VersionKey, time.Time]("seen-files", ttl, DefaultCleanupInterval),
		ttl:   ttl,
	}
}

// Unseen stats every path and returns the versions not yet marked. Paths that
// cannot be stat'ed are skipped.
func (s *SeenSet) Unseen(ctx context.Context, paths []string) []FileVersion {
	var out []FileVersion
	for _, p := range paths {
		v, err := StatVersion(p)
		if err != nil {
			log.Warn(log.CatCache, "skipping file", "file", p, "error", err)
			continue
		}
		if _, ok := s.cache.Get(ctx, v.Key()); ok {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Mark records the versions as ingested.
func (s *SeenSet) Mark(ctx context.Context, versions ...FileVersion) {
	now := time.Now()
	for _, v := range versions {
		s.cache.Set(ctx, v.Key(), now, s.ttl)
	}
}

// Len returns the number of remembered versions.
func (s *SeenSet) Len() int {
	return s.cache.Len()
}
