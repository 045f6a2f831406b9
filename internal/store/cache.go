package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mediagraph/mediagraph/internal/platform/logger"
)

// Entry is one cached digest, valid only while the file's modification time
// still matches.
type Entry struct {
	Hash  string `json:"hash"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
}

// DigestCache is the content-addressed index over a managed storage
// directory: SHA-256 per file, persisted to a JSON index keyed by absolute
// path, invalidated by modification time.
type DigestCache struct {
	mu          sync.Mutex
	dir         string
	indexPath   string
	entries     map[string]Entry
	initialized bool
	log         *logger.Logger
}

// NewDigestCache loads the persisted index and reconciles it against the
// directory: dead entries are dropped, unknown or stale files are digested.
// Per-file I/O errors are logged and skipped, never fatal to the scan.
func NewDigestCache(dir, indexPath string, log *logger.Logger) (*DigestCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	c := &DigestCache{
		dir:       dir,
		indexPath: indexPath,
		entries:   make(map[string]Entry),
		log:       log,
	}

	if data, err := os.ReadFile(indexPath); err == nil {
		if err := json.Unmarshal(data, &c.entries); err != nil {
			log.Warn("cache index unreadable, rebuilding", "path", indexPath, "error", err)
			c.entries = make(map[string]Entry)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read cache index: %w", err)
	}

	c.reconcile()
	c.initialized = true
	return c, nil
}

func (c *DigestCache) reconcile() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for path := range c.entries {
		if _, err := os.Stat(path); err != nil {
			delete(c.entries, path)
		}
	}

	files, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("storage dir scan failed", "dir", c.dir, "error", err)
		return
	}

	scanned := 0
	for _, f := range files {
		if f.IsDir() || f.Name() == filepath.Base(c.indexPath) {
			continue
		}
		path, err := filepath.Abs(filepath.Join(c.dir, f.Name()))
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			c.log.Warn("file skipped during scan", "path", path, "error", err)
			continue
		}
		if entry, ok := c.entries[path]; ok && entry.Mtime == info.ModTime().UnixMilli() {
			continue
		}
		entry, err := digestFile(path, info)
		if err != nil {
			c.log.Warn("file skipped during scan", "path", path, "error", err)
			continue
		}
		c.entries[path] = entry
		scanned++
	}

	if err := c.persistLocked(); err != nil {
		c.log.Warn("cache index persist failed", "error", err)
	}
	c.log.Info("cache reconciled", "files", len(c.entries), "digested", scanned)
}

// EnsureDigest returns the cached digest for path, recomputing it when the
// file's modification time no longer matches the cached one.
func (c *DigestCache) EnsureDigest(path string) (Entry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Entry{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[abs]; ok && entry.Mtime == info.ModTime().UnixMilli() {
		return entry, nil
	}

	entry, err := digestFile(abs, info)
	if err != nil {
		return Entry{}, err
	}
	c.entries[abs] = entry
	if err := c.persistLocked(); err != nil {
		c.log.Warn("cache index persist failed", "error", err)
	}
	return entry, nil
}

// FindByDigest returns the managed-dir-relative path of the first file with
// matching content. Size is compared before hash: the cheap filter first.
func (c *DigestCache) FindByDigest(hash string, size int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for path, entry := range c.entries {
		if entry.Size != size {
			continue
		}
		if entry.Hash == hash {
			if rel, err := filepath.Rel(mustAbs(c.dir), path); err == nil {
				return rel, true
			}
			return filepath.Base(path), true
		}
	}
	return "", false
}

// RecordUpload digests a freshly written file and persists the index.
func (c *DigestCache) RecordUpload(path string) (Entry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Entry{}, err
	}
	entry, err := digestFile(abs, info)
	if err != nil {
		return Entry{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[abs] = entry
	if err := c.persistLocked(); err != nil {
		c.log.Warn("cache index persist failed", "error", err)
	}
	return entry, nil
}

// Stats reports the index size and readiness.
func (c *DigestCache) Stats() (fileCount int, initialized bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.initialized
}

// Clear drops the whole index and removes its persisted file.
func (c *DigestCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	if err := os.Remove(c.indexPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// persistLocked writes the whole index atomically: temp file then rename, so
// a crash never leaves a half-written index behind.
func (c *DigestCache) persistLocked() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.indexPath)
}

func digestFile(path string, info os.FileInfo) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Entry{}, err
	}
	return Entry{
		Hash:  hex.EncodeToString(h.Sum(nil)),
		Size:  info.Size(),
		Mtime: info.ModTime().UnixMilli(),
	}, nil
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
