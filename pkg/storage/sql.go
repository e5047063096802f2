package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLStore persists request logs and documents through gorm.
type SQLStore struct {
	db *gorm.DB
}

var (
	_ Store         = (*SQLStore)(nil)
	_ DocumentStore = (*SQLStore)(nil)
)

// Open connects to a postgres, mysql or sqlite database and migrates the schema.
func Open(driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite", "sqlite3", "":
		if dsn == "" {
			dsn = "docgen.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}

	if dialector.Name() == "sqlite" {
		// in-memory databases are per connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(Types...); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) SaveRequestLog(ctx context.Context, entry *RequestLogEntry) error {
	if entry.ID == "" {
		return errors.New("request log: missing id")
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("request log: save %s: %w", entry.ID, err)
	}
	return nil
}

func (s *SQLStore) GetRequestLog(ctx context.Context, id string) (*RequestLogEntry, error) {
	var entry RequestLogEntry
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *SQLStore) logQuery(ctx context.Context, userID string, from, to time.Time) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&RequestLogEntry{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at <= ?", to)
	}
	return q
}

func (s *SQLStore) ListRequestLogs(ctx context.Context, filters LogFilters) ([]*RequestLogEntry, error) {
	q := s.logQuery(ctx, filters.UserID, filters.From, filters.To)
	if filters.Operation != "" {
		q = q.Where("operation = ?", filters.Operation)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var entries []*RequestLogEntry
	err := q.Order("created_at DESC").Limit(limit).Offset(filters.Offset).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("request log: list: %w", err)
	}
	return entries, nil
}

type usageRow struct {
	Status     string
	Operation  string
	Requests   int64
	Tokens     int64
	Retries    int64
	DurationMs int64
}

func (s *SQLStore) GetUsageStats(ctx context.Context, userID string, from, to time.Time) (*UsageStats, error) {
	var rows []usageRow
	err := s.logQuery(ctx, userID, from, to).
		Select("status, operation, COUNT(*) AS requests, COALESCE(SUM(token_count), 0) AS tokens, " +
			"COALESCE(SUM(retry_count), 0) AS retries, COALESCE(SUM(duration_ms), 0) AS duration_ms").
		Group("status, operation").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("request log: usage: %w", err)
	}

	stats := newUsageStats()
	var totalMs int64
	for _, r := range rows {
		stats.TotalRequests += r.Requests
		stats.TotalTokens += r.Tokens
		stats.TotalRetries += r.Retries
		stats.ByStatus[r.Status] += r.Requests
		if r.Operation != "" {
			stats.ByOperation[r.Operation] += r.Requests
		}
		totalMs += r.DurationMs
	}
	stats.finish(totalMs)
	return stats, nil
}

func (s *SQLStore) CreateDocument(ctx context.Context, doc *Document) error {
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("document: create: %w", err)
	}
	return nil
}

func (s *SQLStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocument writes every column except the primary key and creation time.
func (s *SQLStore) UpdateDocument(ctx context.Context, doc *Document) error {
	res := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", doc.ID).
		Select("*").Omit("id", "created_at").
		Updates(doc)
	if res.Error != nil {
		return fmt.Errorf("document: update %s: %w", doc.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteDocument(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Document{})
	if res.Error != nil {
		return fmt.Errorf("document: delete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListDocuments(ctx context.Context, filters DocumentFilters) ([]*Document, error) {
	q := s.db.WithContext(ctx).Model(&Document{})
	switch {
	case filters.OwnerID != "" && filters.IncludeShared:
		q = q.Where("owner_id = ? OR visibility IN ?", filters.OwnerID,
			[]string{VisibilityOrganization, VisibilityPublic})
	case filters.OwnerID != "":
		q = q.Where("owner_id = ?", filters.OwnerID)
	}
	if filters.DocumentType != "" {
		q = q.Where("document_type = ?", filters.DocumentType)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var docs []*Document
	if err := q.Order("created_at DESC").Limit(limit).Offset(filters.Offset).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("document: list: %w", err)
	}
	return docs, nil
}

// CountDocuments counts documents owned by ownerID created at or after since.
// A zero since counts all of them.
func (s *SQLStore) CountDocuments(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&Document{}).Where("owner_id = ?", ownerID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("document: count: %w", err)
	}
	return n, nil
}

// AverageDuration returns the mean generation time in milliseconds, 0 without documents.
func (s *SQLStore) AverageDuration(ctx context.Context, ownerID string) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.WithContext(ctx).Model(&Document{}).
		Where("owner_id = ?", ownerID).
		Select("AVG(duration_ms)").
		Row().Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("document: average duration: %w", err)
	}
	return avg.Float64, nil
}
