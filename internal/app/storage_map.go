package app

import (
	"github.com/GladstoneOG/wabot/internal/config"
	"github.com/GladstoneOG/wabot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:        sc.Driver,
		Path:          sc.Path,
		BusyTimeout:   sc.BusyTimeoutDuration(),
		RedisAddr:     sc.RedisAddr,
		RedisPassword: sc.RedisPassword,
		RedisDB:       sc.RedisDB,
		KeyPrefix:     sc.KeyPrefix,
	}
}
