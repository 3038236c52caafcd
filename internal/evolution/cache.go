package evolution

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxCachedClients bounds the number of live instance handles. Least
// recently used tenants are evicted and rebuilt on demand.
const maxCachedClients = 100

// ClientCache holds one InstanceClient per tenant instance name.
type ClientCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, *InstanceClient]
	api API
}

func NewClientCache(api API) *ClientCache {
	c, err := lru.New[string, *InstanceClient](maxCachedClients)
	if err != nil {
		panic(err)
	}
	return &ClientCache{lru: c, api: api}
}

// Get returns the cached handle for instance, building one from the
// stored token when absent.
func (c *ClientCache) Get(instance, token string) *InstanceClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.lru.Get(instance); ok {
		// token rotation invalidates the cached handle
		if client.Token == token {
			return client
		}
	}
	client := NewInstanceClient(c.api, instance, token)
	c.lru.Add(instance, client)
	return client
}

// Forget drops the handle after deprovisioning or token changes.
func (c *ClientCache) Forget(instance string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(instance)
}

func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
