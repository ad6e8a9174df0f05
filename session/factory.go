package session

import "time"

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

const defaultKey = "default"

// NewStore creates a Store of the given type. The Redis store requires
// WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}
	if config.ttl <= 0 {
		config.ttl = DefaultTTL
	}
	if config.key == "" {
		config.key = defaultKey
	}
	if config.now == nil {
		config.now = time.Now
	}

	switch storeType {
	case StoreTypeMemory:
		return &memoryStore{ttl: config.ttl, now: config.now}, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return &redisStore{
			client: config.redisClient,
			ttl:    config.ttl,
			key:    keyPrefix + config.key,
		}, nil

	default:
		return nil, ErrInvalidStoreType
	}
}
