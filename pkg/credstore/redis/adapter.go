package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/porthorian/procureauth/pkg/credstore"
)

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

// Adapter stores the session record as a single redis string. Expiry is
// delegated to redis when the record carries one.
type Adapter struct {
	client    goredis.UniversalClient
	namespace string
}

var _ credstore.Backend = (*Adapter)(nil)

func NewAdapter(config Config) (*Adapter, error) {
	if config.Address == "" {
		return nil, errors.New("redis credstore: address is required")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         config.Address,
		Username:     config.Username,
		Password:     config.Password,
		DB:           config.Database,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	return NewAdapterWithClient(client, config.Namespace), nil
}

func NewAdapterWithClient(client goredis.UniversalClient, namespace string) *Adapter {
	return &Adapter{client: client, namespace: namespace}
}

// Ping verifies the connection; initialization calls it before handing the
// adapter to a store.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis credstore: ping: %w", err)
	}
	return nil
}

func (a *Adapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return credstore.ErrEmptyKey
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := a.client.Set(ctx, a.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis credstore: set: %w", err)
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := a.client.Get(ctx, a.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis credstore: get: %w", err)
	}
	return value, true, nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, a.key(key)).Err(); err != nil {
		return fmt.Errorf("redis credstore: del: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) key(key string) string {
	if a.namespace == "" {
		return key
	}
	return a.namespace + ":" + key
}
