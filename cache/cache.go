// Package cache keeps the Redis connection options provisioned from a
// platform relationship.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotConfigured is returned before any cache relationship was provisioned
var ErrNotConfigured = errors.New("cache connection parameters not configured")

// Config is the connection record handed over by the provisioner
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
}

// Addr returns host:port, defaulting to the standard Redis port
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// ConfigStore holds the active Redis options; SetConfig replaces them
type ConfigStore struct {
	mu      sync.RWMutex
	current *Config
	options *redis.Options
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{}
}

func (s *ConfigStore) SetConfig(cfg Config) error {
	if cfg.Host == "" {
		return errors.New("cache host is empty")
	}

	opts := &redis.Options{
		Addr:         cfg.Addr(),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record := cfg
	s.current = &record
	s.options = opts
	return nil
}

func (s *ConfigStore) Config() (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Config{}, false
	}
	return *s.current, true
}

// Options returns a copy of the active Redis options
func (s *ConfigStore) Options() (*redis.Options, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.options == nil {
		return nil, ErrNotConfigured
	}
	opts := *s.options
	return &opts, nil
}

// Client builds a client from the active options
func (s *ConfigStore) Client() (*redis.Client, error) {
	opts, err := s.Options()
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// Ping opens a short-lived client and checks the server answers
func (s *ConfigStore) Ping(ctx context.Context) error {
	client, err := s.Client()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
