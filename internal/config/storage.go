package config

import "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"

// StorageOptions maps the storage settings onto storage.Open options.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Backend:       c.StorageBackend,
		BaseDir:       c.StorageBaseDir,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		RedisPrefix:   c.RedisPrefix,
		PostgresDSN:   c.PostgresDSN,
		MongoURI:      c.MongoDBURI,
		MongoDatabase: c.MongoDatabase,
	}
}
