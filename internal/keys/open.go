package keys

import (
	"context"
	"fmt"

	"github.com/kenneth/chart-vault/internal/config"
)

// OpenStore builds the Store selected by cfg. The returned close function
// releases backend resources and is never nil.
func OpenStore(ctx context.Context, cfg config.KeyStoreConfig) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "file", "":
		s, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case "redis":
		s, err := DialRedisStore(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.Prefix)
		if err != nil {
			return nil, noop, fmt.Errorf("connect redis key store: %w", err)
		}
		return s, s.Close, nil
	case "badger":
		s, err := OpenBadgerStore(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown keystore backend %q", cfg.Backend)
	}
}
