package repository

import (
	"context"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// maxMessageLen matches the operation_logs.message column size.
const maxMessageLen = 500

// operationLogRepository implements OperationLogRepository.
type operationLogRepository struct {
	db *gorm.DB
}

// NewOperationLogRepository creates a new OperationLogRepository.
func NewOperationLogRepository(db *gorm.DB) OperationLogRepository {
	return &operationLogRepository{db: db}
}

func (r *operationLogRepository) Append(ctx context.Context, code entities.LogCode, originID *uint, message string) error {
	entry := entities.OperationLog{
		Code:     code,
		OriginID: originID,
		Message:  truncateMessage(message),
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *operationLogRepository) Exists(ctx context.Context, code entities.LogCode, message string) (bool, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&entities.OperationLog{}).
		Where("code = ? AND message = ?", code, truncateMessage(message)).
		Limit(1).
		Pluck("id", &ids).Error
	return len(ids) > 0, err
}

func (r *operationLogRepository) Recent(ctx context.Context, filter LogFilter) ([]entities.OperationLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	q := r.db.WithContext(ctx).Model(&entities.OperationLog{})
	if len(filter.Codes) > 0 {
		q = q.Where("code IN ?", filter.Codes)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since.UTC())
	}

	var entries []entities.OperationLog
	err := q.Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *operationLogRepository) CountByCode(ctx context.Context, since time.Time) (map[entities.LogCode]int64, error) {
	var rows []struct {
		Code  entities.LogCode
		Total int64
	}
	q := r.db.WithContext(ctx).Model(&entities.OperationLog{}).Select("code, COUNT(*) AS total")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since.UTC())
	}
	if err := q.Group("code").Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[entities.LogCode]int64, len(rows))
	for _, row := range rows {
		counts[row.Code] = row.Total
	}
	return counts, nil
}

// truncateMessage cuts message to the column size without splitting a rune.
func truncateMessage(message string) string {
	if utf8.RuneCountInString(message) <= maxMessageLen {
		return message
	}
	runes := []rune(message)
	return string(runes[:maxMessageLen])
}
