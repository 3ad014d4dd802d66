package config

import "time"

const (
	// Server
	DefaultAddr         = ":8080"
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	// Room lifecycle
	DefaultInactivityTimeout = 5 * time.Minute
	DefaultReconnectGrace    = 15 * time.Second
	DefaultSweepInterval     = 5 * time.Second
	DefaultSessionTTL        = 24 * time.Hour

	// Messages
	DefaultMaxBodyBytes = 4096
	DefaultSendRPS      = 5.0
	DefaultSendBurst    = 10

	// Persistence
	DefaultPersistWorkers = 4
	DefaultPersistBuffer  = 1024

	// Logging
	DefaultLogLevel      = "info"
	DefaultLogMaxSize    = 100
	DefaultLogMaxBackups = 5
	DefaultLogMaxAge     = 30
)
