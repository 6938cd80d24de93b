package syncmodel

import lru "github.com/hashicorp/golang-lru/v2"

// HashCache memoizes entityHash over its canonical pre-hash string so a
// reconciliation pass that touches many unchanged devices/folders doesn't
// re-walk and re-hash their fields every time — the same cache-aside shape
// the teacher uses for its contact lookups. Keyed by the canonical string
// itself (not by entity id) so a device/folder whose content genuinely
// changed simply misses and recomputes; nothing needs explicit invalidation.
type HashCache struct {
	cache *lru.Cache[string, uint64]
}

// NewHashCache builds a cache holding up to size canonical-string → hash
// entries. A syncdaemon.Handler holds one per process.
func NewHashCache(size int) *HashCache {
	c, err := lru.New[string, uint64](size)
	if err != nil {
		// only returns an error for size <= 0; callers pass a fixed positive
		// constant, so fall back to a minimal cache rather than propagate.
		c, _ = lru.New[string, uint64](1)
	}
	return &HashCache{cache: c}
}

func (c *HashCache) hash(canonical string) uint64 {
	if c == nil {
		return entityHash(canonical)
	}
	if v, ok := c.cache.Get(canonical); ok {
		return v
	}
	v := entityHash(canonical)
	c.cache.Add(canonical, v)
	return v
}

// DeviceConfigHash hashes a device's non-volatile identity, memoized
// through the cache when one is supplied.
func (c *HashCache) DeviceConfigHash(d *Device) uint64 {
	return c.hash(devicePreHash(d))
}

// FolderConfigHash hashes a folder's non-volatile identity, memoized
// through the cache when one is supplied.
func (c *HashCache) FolderConfigHash(f *Folder) uint64 {
	return c.hash(folderPreHash(f))
}

// ConfigurationHash is the cache-aware counterpart of the package-level
// ConfigurationHash function, used by syncdaemon.Handler on every
// reconciliation pass.
func (c *HashCache) ConfigurationHash(serverIDs []string, devices []*Device, folders []*Folder, ignoredIDs []string) string {
	return configurationHash(serverIDs, devices, folders, ignoredIDs, c.DeviceConfigHash, c.FolderConfigHash)
}
