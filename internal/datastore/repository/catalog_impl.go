package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// catalogRepository implements CatalogRepository.
type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) SourceByName(ctx context.Context, name string) (*entities.SourceDatabase, error) {
	var src entities.SourceDatabase
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&src).Error
	if err != nil {
		return nil, translate(err, ErrSourceNotFound)
	}
	return &src, nil
}

func (r *catalogRepository) SourceByID(ctx context.Context, id uint) (*entities.SourceDatabase, error) {
	var src entities.SourceDatabase
	if err := r.db.WithContext(ctx).First(&src, id).Error; err != nil {
		return nil, translate(err, ErrSourceNotFound)
	}
	return &src, nil
}

func (r *catalogRepository) ListSources(ctx context.Context) ([]entities.SourceDatabase, error) {
	var sources []entities.SourceDatabase
	err := r.db.WithContext(ctx).Order("name").Find(&sources).Error
	return sources, err
}

// UpsertSource retrieves an existing source or creates a new one, then
// applies the active flag.
func (r *catalogRepository) UpsertSource(ctx context.Context, name string, active bool) (*entities.SourceDatabase, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}

	src := entities.SourceDatabase{Name: name, Active: active}
	createErr := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&src).Error
	if createErr != nil {
		return nil, translate(createErr, ErrSourceNotFound)
	}

	// Re-read: on conflict nothing was inserted and src.ID may be unset
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&src).Error; err != nil {
		return nil, translate(err, ErrSourceNotFound)
	}
	if src.Active != active {
		// Select forces the zero value false to be written
		if err := r.db.WithContext(ctx).Model(&src).Select("active").Updates(map[string]any{"active": active}).Error; err != nil {
			return nil, err
		}
		src.Active = active
	}
	return &src, nil
}

func (r *catalogRepository) SystemByID(ctx context.Context, id uint) (*entities.RecognitionSystem, error) {
	var sys entities.RecognitionSystem
	if err := r.db.WithContext(ctx).First(&sys, id).Error; err != nil {
		return nil, translate(err, ErrSystemNotFound)
	}
	return &sys, nil
}

func (r *catalogRepository) SystemByName(ctx context.Context, name string) (*entities.RecognitionSystem, error) {
	var sys entities.RecognitionSystem
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&sys).Error; err != nil {
		return nil, translate(err, ErrSystemNotFound)
	}
	return &sys, nil
}

func (r *catalogRepository) ListSystems(ctx context.Context) ([]entities.RecognitionSystem, error) {
	var systems []entities.RecognitionSystem
	err := r.db.WithContext(ctx).Order("id").Find(&systems).Error
	return systems, err
}

func (r *catalogRepository) UpsertSystem(ctx context.Context, name, baseURL string) (*entities.RecognitionSystem, error) {
	if name == "" || baseURL == "" {
		return nil, ErrInvalidInput
	}

	sys := entities.RecognitionSystem{Name: name, BaseURL: baseURL}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"base_url", "updated_at"}),
		}).
		Create(&sys).Error
	if err != nil {
		return nil, translate(err, ErrSystemNotFound)
	}
	return r.SystemByName(ctx, name)
}

func (r *catalogRepository) LinkSourceSystem(ctx context.Context, sourceID, systemID uint) (bool, error) {
	link := entities.SourceSystemLink{SourceDatabaseID: sourceID, RecognitionSystemID: systemID}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&link)
	if res.Error != nil {
		return false, translate(res.Error, ErrInvalidInput)
	}
	return res.RowsAffected > 0, nil
}

func (r *catalogRepository) SourcesForSystem(ctx context.Context, systemID uint, activeOnly bool) ([]entities.SourceDatabase, error) {
	q := r.db.WithContext(ctx).
		Table("source_databases").
		Select("source_databases.*").
		Joins("JOIN source_system_links ssl ON ssl.source_database_id = source_databases.id").
		Where("ssl.recognition_system_id = ?", systemID)
	if activeOnly {
		q = q.Where("source_databases.active = ?", true)
	}

	var sources []entities.SourceDatabase
	err := q.Order("source_databases.id").Find(&sources).Error
	return sources, err
}

func (r *catalogRepository) SystemsForSource(ctx context.Context, sourceID uint) ([]entities.RecognitionSystem, error) {
	var systems []entities.RecognitionSystem
	err := r.db.WithContext(ctx).
		Table("recognition_systems").
		Select("recognition_systems.*").
		Joins("JOIN source_system_links ssl ON ssl.recognition_system_id = recognition_systems.id").
		Where("ssl.source_database_id = ?", sourceID).
		Order("recognition_systems.id").
		Find(&systems).Error
	return systems, err
}
