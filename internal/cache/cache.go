package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"snapengine/internal/domain"
)

const metadataFile = "cache_metadata.json"

// Entry is one cache index record. Unknown extra fields in persisted entries
// are ignored on load for forward compatibility.
type Entry struct {
	URL       string                `json:"url"`
	Filename  string                `json:"filename"`
	Timestamp time.Time             `json:"timestamp"`
	Options   domain.CaptureOptions `json:"options"`
}

// Stats is a point-in-time report over the artifact directory and index.
type Stats struct {
	Count          int
	TotalSizeBytes int64
	Directory      string
	Oldest         time.Time
	Newest         time.Time
}

// Cache is a content-addressed on-disk store of screenshot artifacts with a
// single JSON metadata index. The index is rewritten wholesale on every
// mutation, which is a deliberate scale ceiling for tens to low thousands of
// entries.
//
// Cache is not safe for concurrent mutation. Callers issuing concurrent
// captures with caching enabled must serialize Lookup/Store/EvictExpired/Clear
// externally; capture.Service does this with a single mutex.
type Cache struct {
	dir     string
	ttl     time.Duration
	enabled bool
	index   map[string]Entry
	log     logrus.FieldLogger
}

// New opens (or creates) the cache directory and loads the metadata index.
// A corrupt or unreadable index is not fatal: the cache starts cold and logs
// a warning.
func New(dir string, ttl time.Duration, enabled bool, logger logrus.FieldLogger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}

	c := &Cache{
		dir:     dir,
		ttl:     ttl,
		enabled: enabled,
		index:   make(map[string]Entry),
		log:     logger.WithField("component", "cache"),
	}
	c.loadIndex()
	return c, nil
}

func (c *Cache) loadIndex() {
	path := filepath.Join(c.dir, metadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.WithError(err).Warn("Failed to read cache metadata, starting cold")
		}
		return
	}
	if err := json.Unmarshal(data, &c.index); err != nil {
		c.log.WithError(err).Warn("Failed to parse cache metadata, starting cold")
		c.index = make(map[string]Entry)
	}
}

// SaveIndex persists the whole metadata index. This is the explicit save
// path; failures here are reported as domain.ErrCache.
func (c *Cache) SaveIndex() error {
	data, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling metadata: %v", domain.ErrCache, err)
	}
	path := filepath.Join(c.dir, metadataFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing metadata: %v", domain.ErrCache, err)
	}
	return nil
}

// Key computes the deterministic cache key for a capture. The digest covers
// the URL, every capture-affecting option and the viewport, serialized with
// sorted keys so the same inputs always hash the same across restarts.
func (c *Cache) Key(url string, opts domain.CaptureOptions, viewportWidth, viewportHeight int) string {
	payload := map[string]any{
		"url": url,
		"options": map[string]any{
			"full_page":   opts.FullPage,
			"selector":    opts.Selector,
			"mobile":      opts.Mobile,
			"device_name": opts.DeviceName,
		},
		"viewport": fmt.Sprintf("%dx%d", viewportWidth, viewportHeight),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Only primitive types above; Marshal cannot fail in practice.
		panic(fmt.Sprintf("cache key serialization: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached artifact path for a capture if the entry exists,
// is younger than the TTL and its file is still on disk. An entry whose file
// has gone missing is pruned from the index immediately and the lookup
// reports a miss; lookups never fail.
func (c *Cache) Lookup(url string, opts domain.CaptureOptions, viewportWidth, viewportHeight int) (string, bool) {
	if !c.enabled {
		return "", false
	}

	key := c.Key(url, opts, viewportWidth, viewportHeight)
	entry, ok := c.index[key]
	if !ok {
		return "", false
	}

	if time.Since(entry.Timestamp) >= c.ttl {
		return "", false
	}

	path := filepath.Join(c.dir, entry.Filename)
	if _, err := os.Stat(path); err != nil {
		// Self-healing: the artifact vanished (e.g. a process died
		// mid-copy), so drop the orphaned entry.
		delete(c.index, key)
		if err := c.SaveIndex(); err != nil {
			c.log.WithError(err).Warn("Failed to persist index after pruning orphaned entry")
		}
		c.log.WithField("url", url).Debug("Pruned cache entry with missing artifact")
		return "", false
	}

	c.log.WithField("url", url).Debug("Cache hit")
	return path, true
}

// Store copies the artifact into the cache and records an index entry.
// Caching is best-effort: on any failure the original path is returned and
// the error is only logged, never surfaced to the capture caller.
func (c *Cache) Store(url, artifactPath string, opts domain.CaptureOptions, viewportWidth, viewportHeight int) string {
	if !c.enabled {
		return artifactPath
	}

	key := c.Key(url, opts, viewportWidth, viewportHeight)
	filename := key + ".png"
	cachedPath := filepath.Join(c.dir, filename)

	if err := copyFile(artifactPath, cachedPath); err != nil {
		c.log.WithError(err).WithField("url", url).Error("Failed to copy artifact into cache")
		return artifactPath
	}

	c.index[key] = Entry{
		URL:       url,
		Filename:  filename,
		Timestamp: time.Now(),
		Options:   opts,
	}
	if err := c.SaveIndex(); err != nil {
		c.log.WithError(err).WithField("url", url).Error("Failed to persist cache metadata")
		return artifactPath
	}

	c.log.WithField("url", url).Debug("Saved artifact to cache")
	return cachedPath
}

// EvictExpired removes entries older than the TTL (aggressive) or twice the
// TTL (the default background sweep). It deletes both the artifact file and
// the index entry and persists the index once at the end if anything changed.
// Returns the number of entries removed.
func (c *Cache) EvictExpired(aggressive bool) (int, error) {
	maxAge := c.ttl
	if !aggressive {
		maxAge = 2 * c.ttl
	}

	now := time.Now()
	var expired []string
	for key, entry := range c.index {
		if now.Sub(entry.Timestamp) > maxAge {
			expired = append(expired, key)
			path := filepath.Join(c.dir, entry.Filename)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				c.log.WithError(err).WithField("file", entry.Filename).Warn("Failed to delete expired artifact")
			}
		}
	}

	for _, key := range expired {
		delete(c.index, key)
	}

	if len(expired) == 0 {
		return 0, nil
	}
	if err := c.SaveIndex(); err != nil {
		return len(expired), err
	}
	c.log.WithField("evicted", len(expired)).Info("Evicted expired cache entries")
	return len(expired), nil
}

// Clear deletes every artifact file and empties the index.
func (c *Cache) Clear() error {
	files, err := filepath.Glob(filepath.Join(c.dir, "*.png"))
	if err != nil {
		return fmt.Errorf("%w: listing artifacts: %v", domain.ErrCache, err)
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			c.log.WithError(err).WithField("file", f).Warn("Failed to delete artifact")
		}
	}

	c.index = make(map[string]Entry)
	if err := c.SaveIndex(); err != nil {
		return err
	}
	c.log.Info("Cleared cache")
	return nil
}

// Stats reports entry count, total artifact size and the index age range.
// Side-effect free.
func (c *Cache) Stats() (Stats, error) {
	files, err := filepath.Glob(filepath.Join(c.dir, "*.png"))
	if err != nil {
		return Stats{}, fmt.Errorf("%w: listing artifacts: %v", domain.ErrCache, err)
	}

	var total int64
	for _, f := range files {
		if fi, err := os.Stat(f); err == nil {
			total += fi.Size()
		}
	}

	stats := Stats{
		Count:          len(c.index),
		TotalSizeBytes: total,
		Directory:      c.dir,
	}
	for _, entry := range c.index {
		if stats.Oldest.IsZero() || entry.Timestamp.Before(stats.Oldest) {
			stats.Oldest = entry.Timestamp
		}
		if entry.Timestamp.After(stats.Newest) {
			stats.Newest = entry.Timestamp
		}
	}
	return stats, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
