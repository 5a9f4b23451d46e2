// Package config holds the proxy's environment-tunable settings: a struct
// of `env:`-tagged fields parsed with caarlos0/env, with a ByteSize type
// for anything size-shaped. Positional CLI arguments (server address,
// cache dir, cache size) are handled separately in cmd/proxy and
// cmd/server; this package only covers what's left to the environment,
// including the metrics listen address.
package config

import (
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/log"
	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
)

// ByteSize decodes human-friendly sizes like "10MB" or "500KB" from an
// environment variable.
type ByteSize int64

func (b *ByteSize) UnmarshalText(data []byte) error {
	value := strings.TrimSpace(strings.ToUpper(string(data)))
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(value, "GB"):
		multiplier = 1 << 30
		value = strings.TrimSuffix(value, "GB")
	case strings.HasSuffix(value, "MB"):
		multiplier = 1 << 20
		value = strings.TrimSuffix(value, "MB")
	case strings.HasSuffix(value, "KB"):
		multiplier = 1 << 10
		value = strings.TrimSuffix(value, "KB")
	case strings.HasSuffix(value, "B"):
		multiplier = 1
		value = strings.TrimSuffix(value, "B")
	}
	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	*b = ByteSize(num * float64(multiplier))
	return nil
}

// Env holds the proxy process's non-positional tunables.
type Env struct {
	MetricsAddr string   `env:"METRICS_ADDR" envDefault:""`
	ChunkSize   ByteSize `env:"CHUNK_SIZE" envDefault:"300KB"`
	LogVerbose  bool     `env:"LOG_VERBOSE" envDefault:"false"`
}

// Load decodes Env from the process environment, applying its defaults.
func Load() (Env, error) {
	return env.ParseAs[Env]()
}

// Print logs the resolved environment settings.
func (e Env) Print() {
	log.Info("Env:")
	log.Info("  MetricsAddr: %s", e.MetricsAddr)
	log.Info("  ChunkSize: %s", humanize.IBytes(uint64(e.ChunkSize)))
	log.Info("  LogVerbose: %t", e.LogVerbose)
}
