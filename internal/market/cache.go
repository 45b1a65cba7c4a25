package market

import (
	"sync"
	"time"
)

// Cache 是多读单写的行情快照缓存。写入方唯一（Ingester 的读循环），
// 读取方不会阻塞写入。
type Cache struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewCache 创建空缓存。
func NewCache() *Cache {
	return &Cache{snaps: make(map[string]Snapshot)}
}

// Apply 按序列号单调地应用一条行情。序列号不大于当前快照的推送被
// 静默丢弃，返回 false。
func (c *Cache) Apply(t Tick) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.snaps[t.Mint]; ok && t.Sequence <= cur.Tick.Sequence {
		return false
	}

	c.snaps[t.Mint] = Snapshot{
		Tick:      t,
		Stale:     false,
		UpdatedAt: t.ReceivedAt,
	}
	return true
}

// Latest 返回指定币种的最新快照。
func (c *Cache) Latest(mint string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.snaps[mint]
	return snap, ok
}

// MarkAllStale 将全部快照标记为过期，断连时调用。
func (c *Cache) MarkAllStale(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for mint, snap := range c.snaps {
		snap.Stale = true
		snap.UpdatedAt = now
		c.snaps[mint] = snap
	}
}
