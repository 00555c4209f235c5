package database

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock-anomaly/detection"
)

// Repository handles database operations for stocks, prices, anomalies and webhooks
type Repository struct {
	db *Database
}

// NewRepository creates a new repository
func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

// InitSchema performs auto-migration and creates supporting indexes
func (r *Repository) InitSchema() error {
	log.Info().Msg("Starting database schema initialization")

	err := r.db.db.AutoMigrate(
		&Stock{},
		&StockPrice{},
		&Anomaly{},
		&DetectionRun{},
		&AlertWebhook{},
		&WebhookDeliveryLog{},
	)
	if err != nil {
		return WrapDBError("InitSchema", err)
	}

	// Range scans by symbol and date dominate the API
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_stock_prices_date ON stock_prices (date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_stock_date ON anomalies (stock_id, date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_runs_started ON detection_runs (started_at DESC)`,
	}
	for _, stmt := range indexes {
		if err := r.db.db.Exec(stmt).Error; err != nil {
			log.Warn().Err(err).Str("statement", stmt).Msg("Failed to create index")
		}
	}

	log.Info().Msg("Database schema initialized")
	return nil
}

// ============================================================================
// Stocks
// ============================================================================

// GetOrCreateStock returns the stock with symbol, inserting it if missing
func (r *Repository) GetOrCreateStock(symbol, companyName, sector string) (*Stock, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || len(symbol) > 10 {
		return nil, NewValidationErrorWithValue("symbol", "must be 1-10 characters", symbol)
	}

	stock := Stock{Symbol: symbol}
	err := r.db.db.
		Where(Stock{Symbol: symbol}).
		Attrs(Stock{CompanyName: companyName, Sector: sector}).
		FirstOrCreate(&stock).Error
	if err != nil {
		return nil, WrapDBError("GetOrCreateStock", err)
	}
	return &stock, nil
}

// GetStocks returns all stocks ordered by symbol
func (r *Repository) GetStocks() ([]Stock, error) {
	var stocks []Stock
	if err := r.db.db.Order("symbol ASC").Find(&stocks).Error; err != nil {
		return nil, WrapDBError("GetStocks", err)
	}
	return stocks, nil
}

// GetStockBySymbol returns a NotFoundError when the symbol is unknown
func (r *Repository) GetStockBySymbol(symbol string) (*Stock, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var stock Stock
	err := r.db.db.Where("symbol = ?", symbol).First(&stock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundErrorWithID("stock", symbol)
	}
	if err != nil {
		return nil, WrapDBError("GetStockBySymbol", err)
	}
	return &stock, nil
}

// ============================================================================
// Prices
// ============================================================================

// UpsertPrices inserts bars for a stock, overwriting existing rows for the same date
func (r *Repository) UpsertPrices(stockID int64, bars []detection.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	rows := make([]StockPrice, len(bars))
	for i, b := range bars {
		rows[i] = PriceFromBar(stockID, b)
	}

	err := r.db.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stock_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).CreateInBatches(rows, PriceBatchSize).Error
	if err != nil {
		return 0, WrapDBError("UpsertPrices", err)
	}
	return len(rows), nil
}

// GetPrices returns bars for a stock in ascending date order. Zero times leave the range open.
func (r *Repository) GetPrices(stockID int64, start, end time.Time) ([]StockPrice, error) {
	query := r.db.db.Where("stock_id = ?", stockID)
	if !start.IsZero() {
		query = query.Where("date >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("date <= ?", end)
	}

	var prices []StockPrice
	if err := query.Order("date ASC").Find(&prices).Error; err != nil {
		return nil, WrapDBError("GetPrices", err)
	}
	return prices, nil
}

// GetLatestPriceDate returns the newest bar date of a stock, or nil when it has none
func (r *Repository) GetLatestPriceDate(stockID int64) (*time.Time, error) {
	var price StockPrice
	err := r.db.db.Where("stock_id = ?", stockID).Order("date DESC").First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapDBError("GetLatestPriceDate", err)
	}
	return &price.Date, nil
}

// ============================================================================
// Anomalies
// ============================================================================

// AnomalyFilter selects anomalies for queries
type AnomalyFilter struct {
	Symbol  string
	Methods []string
	Start   time.Time
	End     time.Time
	Limit   int
}

// SaveAnomalies upserts records keyed by (stock_id, date, detection_method)
func (r *Repository) SaveAnomalies(records []Anomaly) error {
	if len(records) == 0 {
		return nil
	}

	err := r.db.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stock_id"}, {Name: "date"}, {Name: "detection_method"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"anomaly_type", "score", "threshold", "details", "detecting_methods", "method_count", "run_id",
		}),
	}).CreateInBatches(records, AnomalyBatchSize).Error
	return WrapDBError("SaveAnomalies", err)
}

// GetAnomalies returns anomalies matching filter ordered by date then method
func (r *Repository) GetAnomalies(filter AnomalyFilter) ([]AnomalyWithSymbol, error) {
	query := r.db.db.Table("anomalies").
		Select("anomalies.*, stocks.symbol").
		Joins("JOIN stocks ON stocks.id = anomalies.stock_id")

	if filter.Symbol != "" {
		query = query.Where("stocks.symbol = ?", strings.ToUpper(filter.Symbol))
	}
	if len(filter.Methods) > 0 {
		query = query.Where("anomalies.detection_method IN ?", filter.Methods)
	}
	if !filter.Start.IsZero() {
		query = query.Where("anomalies.date >= ?", filter.Start)
	}
	if !filter.End.IsZero() {
		query = query.Where("anomalies.date <= ?", filter.End)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAnomalyLimit
	}
	if limit > MaxAnomalyLimit {
		limit = MaxAnomalyLimit
	}

	var rows []AnomalyWithSymbol
	err := query.Order("anomalies.date ASC, anomalies.detection_method ASC").Limit(limit).Scan(&rows).Error
	if err != nil {
		return nil, WrapDBError("GetAnomalies", err)
	}
	return rows, nil
}

// SetAnomalyVerified marks an anomaly as reviewed
func (r *Repository) SetAnomalyVerified(id int64, verified bool) error {
	res := r.db.db.Model(&Anomaly{}).Where("id = ?", id).Update("is_verified", verified)
	if res.Error != nil {
		return WrapDBError("SetAnomalyVerified", res.Error)
	}
	if res.RowsAffected == 0 {
		return NewNotFoundErrorWithID("anomaly", id)
	}
	return nil
}

// ============================================================================
// Detection runs
// ============================================================================

// SaveDetectionRun creates or updates a run record
func (r *Repository) SaveDetectionRun(run *DetectionRun) error {
	return WrapDBError("SaveDetectionRun", r.db.db.Save(run).Error)
}

// GetRecentRuns returns the latest runs, optionally for one symbol
func (r *Repository) GetRecentRuns(symbol string, limit int) ([]DetectionRun, error) {
	query := r.db.db.Order("started_at DESC").Limit(limit)
	if symbol != "" {
		query = query.Where("symbol = ?", strings.ToUpper(symbol))
	}
	var runs []DetectionRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, WrapDBError("GetRecentRuns", err)
	}
	return runs, nil
}

// ============================================================================
// Webhooks
// ============================================================================

// GetActiveWebhooks retrieves all active webhooks
func (r *Repository) GetActiveWebhooks() ([]AlertWebhook, error) {
	var webhooks []AlertWebhook
	err := r.db.db.Where("is_active = ?", true).Find(&webhooks).Error
	return webhooks, WrapDBError("GetActiveWebhooks", err)
}

// GetWebhooks retrieves all webhooks (active and inactive)
func (r *Repository) GetWebhooks() ([]AlertWebhook, error) {
	var webhooks []AlertWebhook
	err := r.db.db.Order("id ASC").Find(&webhooks).Error
	return webhooks, WrapDBError("GetWebhooks", err)
}

// GetWebhookByID retrieves a specific webhook
func (r *Repository) GetWebhookByID(id int) (*AlertWebhook, error) {
	var webhook AlertWebhook
	err := r.db.db.First(&webhook, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundErrorWithID("webhook", id)
	}
	if err != nil {
		return nil, WrapDBError("GetWebhookByID", err)
	}
	return &webhook, nil
}

// SaveWebhook validates and creates or updates a webhook
func (r *Repository) SaveWebhook(webhook *AlertWebhook) error {
	if err := ValidateWebhook(webhook); err != nil {
		return err
	}
	return WrapDBError("SaveWebhook", r.db.db.Save(webhook).Error)
}

// DeleteWebhook deletes a webhook
func (r *Repository) DeleteWebhook(id int) error {
	res := r.db.db.Delete(&AlertWebhook{}, id)
	if res.Error != nil {
		return WrapDBError("DeleteWebhook", res.Error)
	}
	if res.RowsAffected == 0 {
		return NewNotFoundErrorWithID("webhook", id)
	}
	return nil
}

// SaveWebhookLog saves a new webhook delivery log
func (r *Repository) SaveWebhookLog(entry *WebhookDeliveryLog) error {
	return WrapDBError("SaveWebhookLog", r.db.db.Create(entry).Error)
}

// RecordWebhookResult updates delivery counters of a webhook
func (r *Repository) RecordWebhookResult(id int, success bool, errMsg string) error {
	now := time.Now()
	updates := map[string]interface{}{"last_triggered_at": now}
	if success {
		updates["last_success_at"] = now
		updates["last_error"] = ""
		updates["total_sent"] = gorm.Expr("total_sent + 1")
	} else {
		updates["last_error"] = errMsg
		updates["total_failed"] = gorm.Expr("total_failed + 1")
	}
	err := r.db.db.Model(&AlertWebhook{}).Where("id = ?", id).Updates(updates).Error
	return WrapDBError("RecordWebhookResult", err)
}

// ValidateWebhook checks URL, platform and HTTP method and fills defaults
func ValidateWebhook(webhook *AlertWebhook) error {
	if strings.TrimSpace(webhook.Name) == "" {
		return NewValidationErrorWithValue("name", "is required", webhook.Name)
	}
	u, err := url.Parse(webhook.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewValidationErrorWithValue("url", "must be an absolute http(s) URL", webhook.URL)
	}

	webhook.Platform = strings.ToLower(strings.TrimSpace(webhook.Platform))
	switch webhook.Platform {
	case "":
		webhook.Platform = PlatformGeneric
	case PlatformSlack, PlatformDiscord, PlatformGeneric:
	default:
		return NewValidationErrorWithValue("platform", "must be slack, discord or generic", webhook.Platform)
	}

	webhook.Method = strings.ToUpper(strings.TrimSpace(webhook.Method))
	switch webhook.Method {
	case "":
		webhook.Method = "POST"
	case "POST", "PUT":
	default:
		return NewValidationErrorWithValue("method", "must be POST or PUT", webhook.Method)
	}

	if webhook.RetryCount < 0 {
		return NewValidationErrorWithValue("retry_count", "must not be negative", webhook.RetryCount)
	}
	return nil
}

// String implements fmt.Stringer for log lines
func (f AnomalyFilter) String() string {
	return fmt.Sprintf("symbol=%s methods=%v start=%s end=%s limit=%d",
		f.Symbol, f.Methods, f.Start.Format(time.DateOnly), f.End.Format(time.DateOnly), f.Limit)
}
