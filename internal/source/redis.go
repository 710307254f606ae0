package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jaennil/tilekit/internal/tile"
)

// ErrTileNotFound is returned when a database tile source has no data
// for the requested address.
var ErrTileNotFound = errors.New("tile not found in source")

// RedisSource reads pre-seeded tile bytes from a Redis store. The
// locator is the tile key produced by RedisLocator.
type RedisSource struct {
	client *redis.Client
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

var _ Fetcher = (*RedisSource)(nil)

func NewRedisSource(cfg RedisConfig) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisSource{client: client}, nil
}

// RedisLocator returns the key under which a tile's bytes are stored.
func RedisLocator(a tile.Address) string {
	return fmt.Sprintf("tile:%d:%d:%d", a.Z, a.X, a.Y)
}

func (s *RedisSource) Fetch(ctx context.Context, locator string) ([]byte, error) {
	data, err := s.client.Get(ctx, locator).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrTileNotFound, locator)
		}
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return data, nil
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}
