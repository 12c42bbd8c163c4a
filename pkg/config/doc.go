// Package config loads application configuration from environment variables
// into tagged structs, wrapping github.com/caarlos0/env and
// github.com/joho/godotenv.
//
// Each configuration type is parsed once per process and cached, so
// independent packages can load their own config structs without sharing a
// loader instance:
//
//	type QueueConfig struct {
//	    WorkerCount int `env:"QUEUE_WORKER_COUNT" envDefault:"4"`
//	}
//
//	var cfg QueueConfig
//	config.MustLoad(&cfg)
//
// Tests that mutate the environment should call ResetCache between cases.
package config
