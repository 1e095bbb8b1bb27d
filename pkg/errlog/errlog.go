package errlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/logger"
)

const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"

	defaultCacheSize = 200
	writeBuffer      = 64
)

// record 落库实体
type record struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index"`
	Level     string    `gorm:"size:16"`
	Message   string
	Source    string `gorm:"size:64"`
	Context   string
}

func (record) TableName() string {
	return "error_log"
}

// Entry 对外暴露的日志条目
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Source    string                 `json:"source"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Store 业务错误日志：sqlite 落库 + 内存缓存兜底。
// 写入走后台协程，失败只告警不阻塞调用方。
type Store struct {
	db  *gorm.DB
	log logger.Logger

	writes chan record
	done   chan struct{}

	mu    sync.Mutex
	cache []Entry
}

// New 打开（或创建）sqlite 日志库
func New(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open error log database: %w", err)
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate error log schema: %w", err)
	}

	s := &Store{
		db:     db,
		log:    log,
		writes: make(chan record, writeBuffer),
		done:   make(chan struct{}),
	}
	go s.writer()
	return s, nil
}

// Error 记录一条 error 级别日志
func (s *Store) Error(message, source string, ctx map[string]interface{}) {
	s.append(LevelError, message, source, ctx)
}

// Warning 记录一条 warning 级别日志
func (s *Store) Warning(message, source string, ctx map[string]interface{}) {
	s.append(LevelWarning, message, source, ctx)
}

// Info 记录一条 info 级别日志
func (s *Store) Info(message, source string, ctx map[string]interface{}) {
	s.append(LevelInfo, message, source, ctx)
}

func (s *Store) append(level, message, source string, ctx map[string]interface{}) {
	now := time.Now()
	entry := Entry{
		Timestamp: now,
		Level:     level,
		Message:   message,
		Source:    source,
		Context:   ctx,
	}

	s.mu.Lock()
	s.cache = append([]Entry{entry}, s.cache...)
	if len(s.cache) > defaultCacheSize {
		s.cache = s.cache[:defaultCacheSize]
	}
	s.mu.Unlock()

	rec := record{
		Timestamp: now,
		Level:     level,
		Message:   message,
		Source:    source,
	}
	if len(ctx) > 0 {
		if raw, err := json.Marshal(ctx); err == nil {
			rec.Context = string(raw)
		}
	}

	select {
	case s.writes <- rec:
	default:
		s.log.Warnf(context.Background(), "error log write buffer full, entry dropped, source: %s", source)
	}
}

func (s *Store) writer() {
	defer close(s.done)
	for rec := range s.writes {
		if err := s.db.Create(&rec).Error; err != nil {
			s.log.Warnf(context.Background(), "persist error log entry failed, err: %v", err)
		}
	}
}

// Entries 返回最近的日志条目，最新在前。库不可用时退回内存缓存
func (s *Store) Entries(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > defaultCacheSize {
		limit = defaultCacheSize
	}

	var records []record
	err := s.db.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		s.log.Warnf(ctx, "read error log failed, falling back to memory cache, err: %v", err)
		return s.cached(limit), nil
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entry := Entry{
			Timestamp: rec.Timestamp,
			Level:     rec.Level,
			Message:   rec.Message,
			Source:    rec.Source,
		}
		if rec.Context != "" {
			var ctxMap map[string]interface{}
			if err := json.Unmarshal([]byte(rec.Context), &ctxMap); err == nil {
				entry.Context = ctxMap
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) cached(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.cache) {
		limit = len(s.cache)
	}
	return append([]Entry(nil), s.cache[:limit]...)
}

// Close 等待缓冲写完并关闭数据库
func (s *Store) Close() error {
	close(s.writes)
	<-s.done

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
