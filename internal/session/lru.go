package session

import (
	"container/list"
	"sync"

	"github.com/lucialabs/lucia/internal/domain/models"
)

// lruCache is a fixed-capacity LRU over sessions. It only ever holds
// copies of state already persisted in the repository, so eviction is
// read-through safe: a miss falls back to the store.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	id      string
	session *models.Session
}

func newLRUCache(capacity int) *lruCache {
	if capacity < 1 {
		capacity = 1
	}
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *lruCache) get(id string) (*models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).session, true
}

func (c *lruCache) put(session *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[session.ID]; ok {
		elem.Value.(*lruEntry).session = session
		c.order.MoveToFront(elem)
		return
	}
	elem := c.order.PushFront(&lruEntry{id: session.ID, session: session})
	c.items[session.ID] = elem
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).id)
		}
	}
}

func (c *lruCache) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[id]; ok {
		c.order.Remove(elem)
		delete(c.items, id)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
