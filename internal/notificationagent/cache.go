package notificationagent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
)

const lastNotificationKey = "last-notification"

// LastNotification 最近一次展示的通知摘要，供页面查询
type LastNotification struct {
	Tag       string    `json:"tag"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	ID        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	ShownAt   time.Time `json:"shownAt"`
}

// MetadataCache 以代际（generation）为前缀的本地缓存，激活新版本时淘汰旧代数据
type MetadataCache struct {
	cache      *bigcache.BigCache
	generation string
}

func NewMetadataCache(ctx context.Context, generation string, lifeWindow time.Duration) (*MetadataCache, error) {
	cfg := bigcache.DefaultConfig(lifeWindow)
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 1024
	cfg.MaxEntrySize = 1024
	cfg.Verbose = false

	c, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &MetadataCache{cache: c, generation: generation}, nil
}

func (c *MetadataCache) key(name string) string {
	return c.generation + ":" + name
}

// Generation 当前代际
func (c *MetadataCache) Generation() string {
	return c.generation
}

func (c *MetadataCache) PutLast(n LastNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return c.cache.Set(c.key(lastNotificationKey), data)
}

// Last 不存在时返回 nil
func (c *MetadataCache) Last() (*LastNotification, error) {
	data, err := c.cache.Get(c.key(lastNotificationKey))
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var n LastNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Put 写入原始数据，仅用于迁移或预热
func (c *MetadataCache) Put(generation, name string, data []byte) error {
	return c.cache.Set(generation+":"+name, data)
}

// EvictStale 删除非当前代际的全部条目，返回删除数量
func (c *MetadataCache) EvictStale() (int, error) {
	prefix := c.generation + ":"
	var stale []string

	it := c.cache.Iterator()
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			return 0, err
		}
		if !strings.HasPrefix(entry.Key(), prefix) {
			stale = append(stale, entry.Key())
		}
	}

	removed := 0
	for _, k := range stale {
		if err := c.cache.Delete(k); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (c *MetadataCache) Len() int {
	return c.cache.Len()
}

func (c *MetadataCache) Close() error {
	return c.cache.Close()
}
