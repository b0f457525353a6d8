package config

type Config interface {
	EnvConfig
	RedisConfig
	TokenConfig
	SecurityConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Redis
	Token
	Security
	Store
}

func New() Config {
	return mainConfig{}
}
