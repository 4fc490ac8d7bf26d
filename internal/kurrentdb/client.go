package kurrentdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"

	"github.com/mj-trademark/portal/internal/shared/config"
)

// Client wraps the EventStore client with additional functionality.
type Client struct {
	db *esdb.Client
	mu sync.RWMutex
}

// NewClient creates a new KurrentDB client.
func NewClient(cfg config.KurrentDBConfig) (*Client, error) {
	settings, err := esdb.ParseConnectionString(ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	db, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Client{db: db}, nil
}

// Connect verifies the server answers before the HTTP server starts.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("failed to verify connection: %w", err)
	}
	return nil
}

// DB returns the underlying EventStore client.
func (c *Client) DB() *esdb.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}

// HealthCheck verifies the connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (c *Client) ping(ctx context.Context) error {
	db := c.DB()
	if db == nil {
		return fmt.Errorf("client closed")
	}
	stream, err := db.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return err
	}
	stream.Close()
	return nil
}

// isNotFound reports whether err is the server's missing-stream error.
func isNotFound(err error) bool {
	if esdbErr, ok := esdb.FromError(err); !ok {
		return esdbErr.Code() == esdb.ErrorCodeResourceNotFound
	}
	return false
}
