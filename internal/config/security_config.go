package config

import (
	"runtime"
	"time"
)

type SecurityConfig interface {
	GetHashWorkers() int
	GetArgonTime() uint32
	GetArgonMemoryKiB() uint32
	GetArgonThreads() uint8
	GetTenantCacheTTL() time.Duration
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetHashWorkers bounds concurrent password hash computations
func (Security) GetHashWorkers() int {
	n := GetInt("HASH_WORKERS", runtime.GOMAXPROCS(0))
	if n < 1 {
		n = 1
	}
	return n
}

func (Security) GetArgonTime() uint32 {
	return uint32(GetInt("ARGON_TIME", 3))
}

func (Security) GetArgonMemoryKiB() uint32 {
	return uint32(GetInt("ARGON_MEMORY_KIB", 64*1024))
}

func (Security) GetArgonThreads() uint8 {
	return uint8(GetInt("ARGON_THREADS", 4))
}

// GetTenantCacheTTL is the maximum staleness of a cached tenant policy
func (Security) GetTenantCacheTTL() time.Duration {
	return GetDuration("TENANT_CACHE_TTL", 30*time.Second)
}
