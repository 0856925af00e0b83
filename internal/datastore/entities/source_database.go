package entities

import "time"

// SourceDatabase is the origin of a dossier. Records of an inactive source
// are kept but excluded from matching.
type SourceDatabase struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"type:varchar(100);not null;uniqueIndex"`
	Active    bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (SourceDatabase) TableName() string {
	return "source_databases"
}
