// Package pathcache resolves logical path references to concrete
// filesystem locations. Local references are normalized against the
// invocation root; fetchable references (git repositories, downloads,
// archives) are materialized once into a disk-backed cache directory and
// reused across invocations.
package pathcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/illixr/runner/internal/config"
	"github.com/illixr/runner/internal/ctxlog"
	"github.com/illixr/runner/internal/proc"
)

// ErrMissingResource reports a resolved path that does not exist on disk.
type ErrMissingResource struct {
	Spec config.LocationSpec
	Path string
}

func (e *ErrMissingResource) Error() string {
	return fmt.Sprintf("resource %s resolved to %s, which does not exist", e.Spec, e.Path)
}

// Options control one Resolve call.
type Options struct {
	// MustExist makes resolution fail when the final path is absent.
	MustExist bool
	// Cacheable permits materializing fetchable references. A fetchable
	// reference with Cacheable false is an error.
	Cacheable bool
}

// Cache resolves references against a root directory and owns the contents
// of its cache directory. The base directory is injected so tests can use
// an ephemeral cache; there is no process-wide instance.
type Cache struct {
	root   string
	dir    string
	runner *proc.Runner
	client *http.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a cache rooted at root with entries stored under dir. The
// cache directory is created eagerly, matching the persisted-state
// contract: entries survive across invocations.
func New(root, dir string, runner *proc.Runner) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Cache{
		root:   root,
		dir:    dir,
		runner: runner,
		client: http.DefaultClient,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Resolve maps spec to an absolute filesystem path. Resolution is
// idempotent for a fixed spec and cache directory: the first call may
// fetch, subsequent calls only stat. Distinct specs resolve concurrently;
// concurrent resolutions of the same spec serialize on a per-key lock so
// the cache write happens at most once.
func (c *Cache) Resolve(ctx context.Context, spec config.LocationSpec, opts Options) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	if !spec.Fetchable() {
		path := spec.Local
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.root, path)
		}
		path = filepath.Clean(path)
		return path, c.check(spec, path, opts)
	}

	if !opts.Cacheable {
		return "", fmt.Errorf("reference %s requires fetching, but caching is disabled here", spec)
	}

	key := cacheKey(spec)
	entry := filepath.Join(c.dir, key)

	unlock := c.lockKey(key)
	defer unlock()

	if _, err := os.Stat(entry); err == nil {
		ctxlog.FromContext(ctx).Debug("Cache hit.", "spec", spec.Canonical(), "entry", entry)
		return c.descend(spec, entry, opts)
	}

	if err := c.populate(ctx, spec, entry); err != nil {
		return "", fmt.Errorf("fetching %s: %w", spec, err)
	}
	return c.descend(spec, entry, opts)
}

// descend returns the entry itself, or its sole child when the fetch left
// exactly one directory inside (archives commonly wrap their content in a
// single top-level directory).
func (c *Cache) descend(spec config.LocationSpec, entry string, opts Options) (string, error) {
	children, err := os.ReadDir(entry)
	if err == nil && len(children) == 1 && children[0].IsDir() {
		entry = filepath.Join(entry, children[0].Name())
	}
	return entry, c.check(spec, entry, opts)
}

func (c *Cache) check(spec config.LocationSpec, path string, opts Options) error {
	if !opts.MustExist {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return &ErrMissingResource{Spec: spec, Path: path}
	}
	return nil
}

// populate materializes spec into entry. It fetches into a staging
// directory and renames it into place, so a crash mid-fetch never leaves a
// half-populated entry behind and the populate is atomic for readers.
func (c *Cache) populate(ctx context.Context, spec config.LocationSpec, entry string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Fetching resource into cache.", "spec", spec.Canonical())

	staging, err := os.MkdirTemp(c.dir, filepath.Base(entry)+".fetch-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	switch {
	case spec.GitRepo != "":
		err = c.fetchGit(ctx, spec, staging)
	case spec.DownloadURL != "":
		err = c.fetchURL(ctx, spec.DownloadURL, staging)
	case spec.ZipArchive != "":
		err = c.fetchZip(ctx, spec.ZipArchive, staging)
	case spec.TarArchive != "":
		err = c.fetchTar(ctx, spec.TarArchive, staging)
	default:
		err = fmt.Errorf("unrecognized fetchable reference %s", spec)
	}
	if err != nil {
		return err
	}

	if err := os.Rename(staging, entry); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	logger.Debug("Cache entry committed.", "entry", entry)
	return nil
}

// lockKey serializes writers of one cache key. Existing entries are never
// deleted, so holders of the returned path need no lock.
func (c *Cache) lockKey(key string) func() {
	c.mu.Lock()
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	c.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// cacheKey derives a stable key from the reference content only, never
// from wall-clock time, so identical references share one entry forever.
func cacheKey(spec config.LocationSpec) string {
	sum := sha256.Sum256([]byte(spec.Canonical()))
	return hex.EncodeToString(sum[:16])
}
