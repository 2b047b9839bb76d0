package constants

import "time"

const (
	DatabaseTimeout = 5 * time.Second
	RecalcTimeout   = 10 * time.Minute
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	// ProgressInterval is how many replayed matches elapse between progress
	// reports.
	ProgressInterval = 50
)

const (
	PersistMaxRetries = 3
	PersistRetryDelay = 250 * time.Millisecond
)

const (
	ShutdownTimeout = 5 * time.Second
)
