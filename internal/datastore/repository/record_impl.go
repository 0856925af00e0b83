package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// recordRepository implements RecordRepository.
type recordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &recordRepository{db: db}
}

func (r *recordRepository) GetByID(ctx context.Context, id uint) (*entities.BiometricRecord, error) {
	var rec entities.BiometricRecord
	err := r.db.WithContext(ctx).Preload("SourceDatabase").First(&rec, id).Error
	if err != nil {
		return nil, translate(err, ErrRecordNotFound)
	}
	return &rec, nil
}

func (r *recordRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*entities.BiometricRecord, error) {
	return r.findBy(ctx, "fingerprint = ?", fingerprint)
}

func (r *recordRepository) FindByLocation(ctx context.Context, location string) (*entities.BiometricRecord, error) {
	return r.findBy(ctx, "location = ?", location)
}

func (r *recordRepository) findBy(ctx context.Context, query string, arg any) (*entities.BiometricRecord, error) {
	var rec entities.BiometricRecord
	if err := r.db.WithContext(ctx).Where(query, arg).First(&rec).Error; err != nil {
		return nil, translate(err, ErrRecordNotFound)
	}
	return &rec, nil
}

func (r *recordRepository) Create(ctx context.Context, rec *entities.BiometricRecord) error {
	if rec.Fingerprint == "" || rec.Location == "" || rec.SourceDatabaseID == 0 {
		return ErrInvalidInput
	}
	// Omit associations; SourceDatabase is reference data
	return translate(r.db.WithContext(ctx).Omit(clause.Associations).Create(rec).Error, ErrRecordNotFound)
}

func (r *recordRepository) UpdateLocation(ctx context.Context, id uint, location string) error {
	res := r.db.WithContext(ctx).Model(&entities.BiometricRecord{}).
		Where("id = ?", id).
		Update("location", location)
	if res.Error != nil {
		return translate(res.Error, ErrRecordNotFound)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *recordRepository) UnlinkedIDs(ctx context.Context, sourceID, systemID, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Table("biometric_records br").
		Joins("LEFT JOIN record_system_links rsl ON rsl.record_id = br.id AND rsl.recognition_system_id = ?", systemID).
		Where("br.source_database_id = ? AND br.active = ? AND br.id > ? AND rsl.id IS NULL", sourceID, true, afterID).
		Order("br.id").
		Limit(limit).
		Pluck("br.id", &ids).Error
	return ids, err
}

func (r *recordRepository) PageActive(ctx context.Context, sourceID, afterID uint, limit int) ([]entities.BiometricRecord, error) {
	var records []entities.BiometricRecord
	err := r.db.WithContext(ctx).
		Where("source_database_id = ? AND active = ? AND id > ?", sourceID, true, afterID).
		Order("id").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *recordRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.BiometricRecord{}).Count(&n).Error
	return n, err
}
