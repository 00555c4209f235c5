package models

import (
	"time"

	"github.com/lib/pq"
)

// Stock is a tracked ticker.
type Stock struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol      string    `gorm:"size:10;uniqueIndex;not null" json:"symbol"`
	CompanyName string    `gorm:"size:100" json:"company_name"`
	Sector      string    `gorm:"size:50" json:"sector"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for Stock
func (Stock) TableName() string {
	return "stocks"
}

// StockPrice is one daily OHLCV bar. (stock_id, date) is unique so collection reruns upsert.
type StockPrice struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StockID   int64     `gorm:"uniqueIndex:idx_stock_prices_stock_date;not null" json:"stock_id"`
	Date      time.Time `gorm:"type:date;uniqueIndex:idx_stock_prices_stock_date;not null" json:"date"`
	Open      float64   `gorm:"type:double precision;not null" json:"open"`
	High      float64   `gorm:"type:double precision;not null" json:"high"`
	Low       float64   `gorm:"type:double precision;not null" json:"low"`
	Close     float64   `gorm:"type:double precision;not null" json:"close"`
	Volume    int64     `gorm:"not null" json:"volume"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for StockPrice
func (StockPrice) TableName() string {
	return "stock_prices"
}

// Anomaly is a persisted detection result.
//
// Key Fields:
//   - AnomalyType: price, volume or hybrid
//   - DetectionMethod: detector key, "consensus" or "hybrid_weighted"
//   - Details: flat JSON diagnostics of the result
//   - DetectingMethods: methods that agreed on the date (aggregated records only)
//
// (stock_id, date, detection_method) is unique; rescans overwrite the previous record.
type Anomaly struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	StockID          int64          `gorm:"uniqueIndex:idx_anomalies_stock_date_method;not null" json:"stock_id"`
	Date             time.Time      `gorm:"type:date;uniqueIndex:idx_anomalies_stock_date_method;index;not null" json:"date"`
	AnomalyType      string         `gorm:"size:20;not null" json:"anomaly_type"`
	DetectionMethod  string         `gorm:"size:50;uniqueIndex:idx_anomalies_stock_date_method;not null" json:"detection_method"`
	Score            float64        `gorm:"type:double precision;not null" json:"score"`
	Threshold        float64        `gorm:"type:double precision" json:"threshold"`
	Details          string         `gorm:"type:jsonb" json:"details"`
	DetectingMethods pq.StringArray `gorm:"type:text[]" json:"detecting_methods,omitempty"`
	MethodCount      int            `gorm:"default:0" json:"method_count"`
	IsVerified       bool           `gorm:"default:false" json:"is_verified"`
	RunID            string         `gorm:"size:36;index" json:"run_id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for Anomaly
func (Anomaly) TableName() string {
	return "anomalies"
}

// AnomalyWithSymbol is an Anomaly joined with its stock symbol.
type AnomalyWithSymbol struct {
	Anomaly
	Symbol string `gorm:"column:symbol" json:"symbol"`
}

// DetectionRun records one scan of one symbol.
type DetectionRun struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	StockID        int64      `gorm:"index" json:"stock_id"`
	Symbol         string     `gorm:"size:10;index" json:"symbol"`
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	BarCount       int        `json:"bar_count"`
	AnomalyCount   int        `json:"anomaly_count"`
	ConsensusCount int        `json:"consensus_count"`
	WeightedCount  int        `json:"weighted_count"`
	Status         string     `gorm:"size:20" json:"status"` // RUNNING, SUCCESS, FAILED
	Error          string     `json:"error,omitempty"`
}

// TableName specifies the table name for DetectionRun
func (DetectionRun) TableName() string {
	return "detection_runs"
}

// AlertWebhook holds an outbound webhook configuration.
type AlertWebhook struct {
	ID                int        `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string     `gorm:"size:100;not null" json:"name"`
	Platform          string     `gorm:"size:20;default:generic" json:"platform"` // slack, discord, generic
	URL               string     `gorm:"not null" json:"url"`
	Method            string     `gorm:"size:10;default:POST" json:"method"`
	AuthType          string     `gorm:"size:20" json:"auth_type"`
	AuthHeader        string     `gorm:"size:100" json:"auth_header"`
	AuthValue         string     `json:"auth_value"`
	Methods           string     `json:"methods"`       // comma separated detection methods, empty for all
	StockSymbols      string     `json:"stock_symbols"` // comma separated, empty for all
	MinScore          *float64   `gorm:"type:double precision" json:"min_score,omitempty"`
	SendSummary       bool       `gorm:"default:true" json:"send_summary"`
	IsActive          bool       `gorm:"default:true" json:"is_active"`
	RetryCount        int        `gorm:"default:3" json:"retry_count"`
	RetryDelaySeconds int        `gorm:"default:5" json:"retry_delay_seconds"`
	TimeoutSeconds    int        `gorm:"default:10" json:"timeout_seconds"`
	LastTriggeredAt   *time.Time `json:"last_triggered_at,omitempty"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	TotalSent         int        `gorm:"default:0" json:"total_sent"`
	TotalFailed       int        `gorm:"default:0" json:"total_failed"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for AlertWebhook
func (AlertWebhook) TableName() string {
	return "alert_webhooks"
}

// WebhookDeliveryLog holds webhook delivery attempts
type WebhookDeliveryLog struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WebhookID      int       `gorm:"index;not null" json:"webhook_id"`
	Kind           string    `gorm:"size:20" json:"kind"` // alert, summary
	Symbol         string    `gorm:"size:10" json:"symbol,omitempty"`
	TriggeredAt    time.Time `gorm:"index;not null" json:"triggered_at"`
	Status         string    `gorm:"size:20" json:"status"` // SUCCESS, FAILED
	HTTPStatusCode *int      `json:"http_status_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	RetryAttempt   int       `json:"retry_attempt"`
}

// TableName specifies the table name for WebhookDeliveryLog
func (WebhookDeliveryLog) TableName() string {
	return "webhook_delivery_logs"
}
