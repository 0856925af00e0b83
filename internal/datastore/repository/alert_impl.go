package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/errors"
)

// alertBatchSize is the number of rows per multi-row INSERT.
const alertBatchSize = 200

// alertRepository implements AlertRepository.
type alertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db *gorm.DB) AlertRepository {
	return &alertRepository{db: db}
}

// Watermark reads the newest row instead of MAX(): SQLite returns aggregate
// timestamps as text, which does not scan into time.Time.
func (r *alertRepository) Watermark(ctx context.Context) (time.Time, bool, error) {
	var alert entities.WatchlistAlert
	err := r.db.WithContext(ctx).
		Select("downloaded_at").
		Order("downloaded_at DESC").
		Take(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return alert.DownloadedAt.UTC(), true, nil
}

func (r *alertRepository) CreateBatch(ctx context.Context, alerts []entities.WatchlistAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&alerts, alertBatchSize).Error
}

func (r *alertRepository) Candidates(ctx context.Context, nationalIDs, names []string) ([]entities.WatchlistAlert, error) {
	seen := make(map[uint]struct{})
	var out []entities.WatchlistAlert

	collect := func(column string, values []string) error {
		for _, part := range chunk(values, maxParams) {
			var batch []entities.WatchlistAlert
			if err := r.db.WithContext(ctx).Where(column+" IN ?", part).Order("id").Find(&batch).Error; err != nil {
				return err
			}
			for i := range batch {
				if _, dup := seen[batch[i].ID]; dup {
					continue
				}
				seen[batch[i].ID] = struct{}{}
				out = append(out, batch[i])
			}
		}
		return nil
	}

	if err := collect("national_id", nationalIDs); err != nil {
		return nil, err
	}
	if err := collect("name", names); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *alertRepository) GetByID(ctx context.Context, id uint) (*entities.WatchlistAlert, error) {
	var alert entities.WatchlistAlert
	if err := r.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		return nil, translate(err, ErrAlertNotFound)
	}
	return &alert, nil
}

func (r *alertRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.WatchlistAlert{}).Count(&n).Error
	return n, err
}

// matchRepository implements MatchRepository.
type matchRepository struct {
	db *gorm.DB
}

// NewMatchRepository creates a new MatchRepository.
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepository{db: db}
}

func (r *matchRepository) ExistingPairs(ctx context.Context, recordIDs []uint) (map[MatchKey]struct{}, error) {
	pairs := make(map[MatchKey]struct{})
	for _, part := range chunk(recordIDs, maxParams) {
		var rows []MatchKey
		err := r.db.WithContext(ctx).
			Model(&entities.AlertMatch{}).
			Select("alert_id, record_id").
			Where("record_id IN ?", part).
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			pairs[row] = struct{}{}
		}
	}
	return pairs, nil
}

func (r *matchRepository) Create(ctx context.Context, match *entities.AlertMatch) (bool, error) {
	if match.AlertID == 0 || match.RecordID == 0 {
		return false, ErrInvalidInput
	}
	res := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(match)
	if res.Error != nil {
		err := translate(res.Error, ErrAlertNotFound)
		if errors.Is(err, ErrDuplicateKey) {
			return false, nil
		}
		return false, err
	}
	return res.RowsAffected > 0, nil
}

func (r *matchRepository) PageIDs(ctx context.Context, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&entities.AlertMatch{}).
		Where("id > ?", afterID).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *matchRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.AlertMatch{}).Count(&n).Error
	return n, err
}
