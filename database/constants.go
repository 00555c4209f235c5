package database

import "time"

// Connection pool sizing
const (
	MaxOpenConns    = 20
	MaxIdleConns    = 10
	ConnMaxLifetime = 5 * time.Minute
)

// Batch sizes for bulk writes
const (
	PriceBatchSize   = 500
	AnomalyBatchSize = 200
)

// Anomaly types stored in anomalies.anomaly_type
const (
	AnomalyTypePrice  = "price"
	AnomalyTypeVolume = "volume"
	AnomalyTypeHybrid = "hybrid"
)

// Detection methods that only exist in storage
const (
	MethodConsensus = "consensus"
)

// Detection run statuses
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// Webhook delivery statuses and kinds
const (
	DeliveryStatusSuccess = "SUCCESS"
	DeliveryStatusFailed  = "FAILED"

	DeliveryKindAlert   = "alert"
	DeliveryKindSummary = "summary"
)

// Webhook platforms
const (
	PlatformSlack   = "slack"
	PlatformDiscord = "discord"
	PlatformGeneric = "generic"
)

// Query limits
const (
	DefaultAnomalyLimit = 500
	MaxAnomalyLimit     = 5000
)
