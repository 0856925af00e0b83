package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/errors"
)

// alertLinkRepository implements AlertLinkRepository.
type alertLinkRepository struct {
	db *gorm.DB
}

// NewAlertLinkRepository creates a new AlertLinkRepository.
func NewAlertLinkRepository(db *gorm.DB) AlertLinkRepository {
	return &alertLinkRepository{db: db}
}

func (r *alertLinkRepository) Create(ctx context.Context, link *entities.AlertSystemLink) (bool, error) {
	if link.AlertMatchID == 0 || link.RecognitionSystemID == 0 {
		return false, ErrInvalidInput
	}
	res := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(link)
	if res.Error != nil {
		err := translate(res.Error, ErrAlertLinkNotFound)
		if errors.Is(err, ErrDuplicateKey) {
			return false, nil
		}
		return false, err
	}
	return res.RowsAffected > 0, nil
}

func (r *alertLinkRepository) MissingFor(ctx context.Context, matchIDs []uint) ([]entities.AlertSystemLink, error) {
	var links []entities.AlertSystemLink
	for _, part := range chunk(matchIDs, maxParams) {
		var rows []struct {
			AlertMatchID        uint
			RecognitionSystemID uint
		}
		err := r.db.WithContext(ctx).
			Table("alert_matches am").
			Select("am.id AS alert_match_id, ssl.recognition_system_id AS recognition_system_id").
			Joins("JOIN biometric_records br ON br.id = am.record_id").
			Joins("JOIN source_system_links ssl ON ssl.source_database_id = br.source_database_id").
			Joins("LEFT JOIN alert_system_links asl ON asl.alert_match_id = am.id AND asl.recognition_system_id = ssl.recognition_system_id").
			Where("am.id IN ? AND asl.id IS NULL", part).
			Order("am.id, ssl.recognition_system_id").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			links = append(links, entities.AlertSystemLink{
				AlertMatchID:        row.AlertMatchID,
				RecognitionSystemID: row.RecognitionSystemID,
			})
		}
	}
	return links, nil
}

func (r *alertLinkRepository) PendingIDs(ctx context.Context, afterID uint, limit int, includeFailed bool) ([]uint, error) {
	q := r.db.WithContext(ctx).Model(&entities.AlertSystemLink{}).Where("id > ?", afterID)
	if includeFailed {
		q = q.Where("(card_id IS NULL OR card_id = ?)", entities.CardFailed)
	} else {
		q = q.Where("card_id IS NULL")
	}

	var ids []uint
	err := q.Order("id").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

func (r *alertLinkRepository) GetDetailed(ctx context.Context, id uint) (*entities.AlertSystemLink, error) {
	var link entities.AlertSystemLink
	err := r.db.WithContext(ctx).
		Preload("AlertMatch.Alert").
		Preload("AlertMatch.Record.SourceDatabase").
		Preload("RecognitionSystem").
		First(&link, id).Error
	if err != nil {
		return nil, translate(err, ErrAlertLinkNotFound)
	}
	return &link, nil
}

func (r *alertLinkRepository) SiblingCard(ctx context.Context, sequence int64, systemID, excludeID uint) (int64, bool, error) {
	var cards []int64
	err := r.db.WithContext(ctx).
		Table("alert_system_links asl").
		Joins("JOIN alert_matches am ON am.id = asl.alert_match_id").
		Joins("JOIN watchlist_alerts wa ON wa.id = am.alert_id").
		Where("wa.sequence = ? AND asl.recognition_system_id = ? AND asl.card_id > 0 AND asl.id <> ?",
			sequence, systemID, excludeID).
		Order("asl.id DESC").
		Limit(1).
		Pluck("asl.card_id", &cards).Error
	if err != nil || len(cards) == 0 {
		return 0, false, err
	}
	return cards[0], true, nil
}

func (r *alertLinkRepository) SetCard(ctx context.Context, id uint, cardID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entities.AlertSystemLink{}).
		Where("id = ? AND (card_id IS NULL OR card_id = ?)", id, entities.CardFailed).
		Update("card_id", cardID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *alertLinkRepository) Stats(ctx context.Context) (LinkStats, error) {
	return linkStats(ctx, r.db, &entities.AlertSystemLink{})
}
