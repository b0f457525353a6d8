package config

import "time"

type StoreConfig interface {
	GetCredentialDSN() string
	GetTenantCatalogue() string
	GetStoreWriteTimeout() time.Duration
	GetRetryBackoff() time.Duration
	GetSweepInterval() time.Duration
	GetSweepRate() float64
}

type Store struct{}

var _ StoreConfig = Store{}

// GetCredentialDSN selects the credential backend: "sqlite:<path>" or a postgres URL
func (Store) GetCredentialDSN() string {
	return GetEnv("CREDENTIAL_DSN", "sqlite:./data/credentials.db")
}

func (Store) GetTenantCatalogue() string {
	return GetEnv("TENANT_CATALOGUE", "./data/tenants.toml")
}

func (Store) GetStoreWriteTimeout() time.Duration {
	return GetDuration("STORE_WRITE_TIMEOUT", 2*time.Second)
}

func (Store) GetRetryBackoff() time.Duration {
	return GetDuration("STORE_RETRY_BACKOFF", 50*time.Millisecond)
}

func (Store) GetSweepInterval() time.Duration {
	return GetDuration("SWEEP_INTERVAL", time.Minute)
}

// GetSweepRate caps sweep deletions per second
func (Store) GetSweepRate() float64 {
	return GetFloat("SWEEP_RATE", 500)
}
