package config

import "time"

type TokenConfig interface {
	GetClockSkew() time.Duration
	GetRefreshTokenLength() int
}

type Token struct{}

var _ TokenConfig = Token{}

func (Token) GetClockSkew() time.Duration {
	return GetDuration("CLOCK_SKEW", 5*time.Second)
}

func (Token) GetRefreshTokenLength() int {
	n := GetInt("REFRESH_TOKEN_BYTES", 32) // 32 bytes = 256 bits
	if n < 32 {
		n = 32
	}
	return n
}
