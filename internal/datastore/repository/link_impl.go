package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/errors"
)

// linkRepository implements LinkRepository.
type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository creates a new LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *entities.RecordSystemLink) (bool, error) {
	if link.RecordID == 0 || link.RecognitionSystemID == 0 {
		return false, ErrInvalidInput
	}
	res := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(link)
	if res.Error != nil {
		err := translate(res.Error, ErrLinkNotFound)
		if errors.Is(err, ErrDuplicateKey) {
			return false, nil
		}
		return false, err
	}
	return res.RowsAffected > 0, nil
}

func (r *linkRepository) GetDetailed(ctx context.Context, id uint) (*entities.RecordSystemLink, error) {
	var link entities.RecordSystemLink
	err := r.db.WithContext(ctx).
		Preload("Record.SourceDatabase").
		Preload("RecognitionSystem").
		First(&link, id).Error
	if err != nil {
		return nil, translate(err, ErrLinkNotFound)
	}
	return &link, nil
}

func (r *linkRepository) FindByRecordAndSystem(ctx context.Context, recordID, systemID uint) (*entities.RecordSystemLink, error) {
	var link entities.RecordSystemLink
	err := r.db.WithContext(ctx).
		Where("record_id = ? AND recognition_system_id = ?", recordID, systemID).
		First(&link).Error
	if err != nil {
		return nil, translate(err, ErrLinkNotFound)
	}
	return &link, nil
}

func (r *linkRepository) PendingIDs(ctx context.Context, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&entities.RecordSystemLink{}).
		Where("card_id IS NULL AND id > ?", afterID).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// AssignCard writes the card only while it is still null, so a link is
// bound to exactly one card even when two workers race.
func (r *linkRepository) AssignCard(ctx context.Context, id uint, cardID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entities.RecordSystemLink{}).
		Where("id = ? AND card_id IS NULL", id).
		Update("card_id", cardID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *linkRepository) Stats(ctx context.Context) (LinkStats, error) {
	return linkStats(ctx, r.db, &entities.RecordSystemLink{})
}

// linkStats counts rows of a link table by card state.
func linkStats(ctx context.Context, db *gorm.DB, model any) (LinkStats, error) {
	var row struct {
		Total   int64
		Pending int64
		Synced  int64
		Failed  int64
	}
	err := db.WithContext(ctx).Model(model).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN card_id IS NULL THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN card_id > 0 THEN 1 ELSE 0 END), 0) AS synced,
			COALESCE(SUM(CASE WHEN card_id = ? THEN 1 ELSE 0 END), 0) AS failed`, entities.CardFailed).
		Scan(&row).Error
	if err != nil {
		return LinkStats{}, err
	}
	return LinkStats(row), nil
}
