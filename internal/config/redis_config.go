package config

type RedisConfig interface {
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetKeyPrefix() string
}

type Redis struct{}

var _ RedisConfig = Redis{}

func (Redis) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Redis) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Redis) GetRedisDB() int {
	return GetInt("REDIS_DB", 0)
}

// GetKeyPrefix namespaces every key this service writes
func (Redis) GetKeyPrefix() string {
	return GetEnv("REDIS_KEY_PREFIX", "auth:")
}
