package logto

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"

	"github.com/njprem/Profile_APP_BackEnd/internal/repository/ports"
)

var (
	ErrCacheClosed         = errors.New("logto client cache closed")
	ErrMissingOrganization = errors.New("organization id required")
)

// ClientFactory builds the client for one organization.
type ClientFactory func(organizationID string) ports.IdentityClient

// ClientCache keeps the most recently used organization clients, each for at
// most ttl.
type ClientCache struct {
	factory ClientFactory

	mu      sync.Mutex
	clients *expirable.LRU[string, ports.IdentityClient]
	closed  bool
}

var _ ports.IdentityClientProvider = (*ClientCache)(nil)

func NewClientCache(size int, ttl time.Duration, factory ClientFactory) *ClientCache {
	if size < 1 {
		size = 1
	}
	return &ClientCache{
		factory: factory,
		clients: expirable.NewLRU[string, ports.IdentityClient](size, nil, ttl),
	}
}

func (c *ClientCache) ForOrganization(ctx context.Context, organizationID string) (ports.IdentityClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, ErrMissingOrganization
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCacheClosed
	}
	if client, ok := c.clients.Get(organizationID); ok {
		return client, nil
	}
	client := c.factory(organizationID)
	c.clients.Add(organizationID, client)
	return client, nil
}

func (c *ClientCache) Len() int {
	return c.clients.Len()
}

// Close drops every cached client; later lookups fail with ErrCacheClosed.
func (c *ClientCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.clients.Purge()
	return nil
}
