package workflow

import "sync"

type cacheEntry struct {
	raw string
	def *Definition
}

// Cache 按订单缓存解析后的流程，流程JSON变化时重新解析
type Cache struct {
	mu      sync.RWMutex
	aliases *AliasTable
	entries map[string]cacheEntry
}

func NewCache(aliases *AliasTable) *Cache {
	if aliases == nil {
		aliases = DefaultAliasTable()
	}
	return &Cache{aliases: aliases, entries: make(map[string]cacheEntry)}
}

// Aliases 别名表
func (c *Cache) Aliases() *AliasTable { return c.aliases }

// Get 获取订单的流程定义
func (c *Cache) Get(orderID, raw string) (*Definition, error) {
	c.mu.RLock()
	e, ok := c.entries[orderID]
	c.mu.RUnlock()
	if ok && e.raw == raw {
		return e.def, nil
	}

	def, err := Parse(raw, c.aliases)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[orderID] = cacheEntry{raw: raw, def: def}
	c.mu.Unlock()
	return def, nil
}

// Invalidate 清除订单缓存
func (c *Cache) Invalidate(orderID string) {
	c.mu.Lock()
	delete(c.entries, orderID)
	c.mu.Unlock()
}
