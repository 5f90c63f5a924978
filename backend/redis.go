package backend

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"
)

var ErrNilClient = errors.New("backend: nil redis client")

// casRetries bounds the optimistic WATCH loop in Update.
const casRetries = 16

// Redis is a Store on top of a Redis-compatible server. Update uses
// WATCH/MULTI optimistic concurrency; under this module's lease protocol a
// key is only written by one process at a time, so retries are rare.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ Store = (*Redis)(nil)

type RedisConfig struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this backend exclusively owns the client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (b *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *Redis) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, bool, error) {
	var out []byte
	var present bool

	txn := func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		exists := true
		if err == goredis.Nil {
			cur, exists, err = nil, false, nil
		}
		if err != nil {
			return err
		}

		next, ferr := fn(cur, exists)
		if errors.Is(ferr, ErrUnchanged) {
			out, present = cur, exists
			return nil
		}
		if ferr != nil {
			return ferr
		}

		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out, present = next, true
		return nil
	}

	for i := 0; i < casRetries; i++ {
		err := b.rdb.Watch(ctx, txn, key)
		if err == goredis.TxFailedErr {
			continue // concurrent writer moved the key; re-read and retry
		}
		if err != nil {
			return nil, false, err
		}
		return out, present, nil
	}
	return nil, false, goredis.TxFailedErr
}

// Close releases the underlying redis client only when this backend owns it.
func (b *Redis) Close(context.Context) error {
	if b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
