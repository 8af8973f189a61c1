package registry

import (
	"sync"
	"time"

	"leadgen/internal/platform/models"
)

type cachedWorkflow struct {
	Workflow *models.Workflow
	CachedAt time.Time
}

type cachedActiveSet struct {
	Workflows []*models.Workflow
	CachedAt  time.Time
}

// workflowCache keeps hot resolve-path lookups off the database. Any
// workflow write invalidates the whole cache.
type workflowCache struct {
	byID   sync.Map // map[id]*cachedWorkflow
	mu     sync.RWMutex
	active *cachedActiveSet
	ttl    time.Duration
}

func newWorkflowCache(ttl time.Duration) *workflowCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &workflowCache{ttl: ttl}
}

func (c *workflowCache) Get(id string) (*models.Workflow, bool) {
	val, ok := c.byID.Load(id)
	if !ok {
		return nil, false
	}

	cached := val.(*cachedWorkflow)
	if time.Since(cached.CachedAt) > c.ttl {
		c.byID.Delete(id)
		return nil, false
	}
	return cached.Workflow, true
}

func (c *workflowCache) Set(wf *models.Workflow) {
	c.byID.Store(wf.ID, &cachedWorkflow{Workflow: wf, CachedAt: time.Now()})
}

func (c *workflowCache) GetActive() ([]*models.Workflow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil || time.Since(c.active.CachedAt) > c.ttl {
		return nil, false
	}
	return c.active.Workflows, true
}

func (c *workflowCache) SetActive(workflows []*models.Workflow) {
	c.mu.Lock()
	c.active = &cachedActiveSet{Workflows: workflows, CachedAt: time.Now()}
	c.mu.Unlock()
}

func (c *workflowCache) Invalidate() {
	c.byID.Range(func(key, _ interface{}) bool {
		c.byID.Delete(key)
		return true
	})
	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
}
