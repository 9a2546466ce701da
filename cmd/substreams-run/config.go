package main

import (
	"fmt"

	"github.com/davidmdm/conf"
	"github.com/docker/go-units"
)

type Config struct {
	CacheDir  string
	MaxMemory Size
}

// Size is a byte count written the way humans do, such as 64MiB or 512k.
type Size uint64

func (size *Size) UnmarshalText(text []byte) error {
	value, err := units.RAMInBytes(string(text))
	if err != nil {
		return err
	}
	if value < 0 {
		return fmt.Errorf("size must not be negative: %s", text)
	}
	*size = Size(value)
	return nil
}

func (size Size) String() string {
	if size == 0 {
		return "unlimited"
	}
	return units.BytesSize(float64(size))
}

// Set allows Size to be used as a flag.Value.
func (size *Size) Set(value string) error {
	return size.UnmarshalText([]byte(value))
}

func LoadConfig() (Config, error) {
	var cfg Config

	conf.Var(conf.Environ, &cfg.CacheDir, "SUBSTREAMS_RUN_CACHE_DIR")
	conf.Var(conf.Environ, &cfg.MaxMemory, "SUBSTREAMS_RUN_MAX_MEMORY")

	err := conf.Environ.Parse()
	return cfg, err
}
