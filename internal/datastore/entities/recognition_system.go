package entities

import "time"

// RecognitionSystem is a facial recognition deployment that receives cards.
// Only its connection parameters change after creation.
type RecognitionSystem struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"type:varchar(100);not null;uniqueIndex"`
	BaseURL   string    `gorm:"column:base_url;type:varchar(255);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (RecognitionSystem) TableName() string {
	return "recognition_systems"
}

// SourceSystemLink declares that records of a source database are sent to a
// recognition system.
type SourceSystemLink struct {
	SourceDatabaseID    uint      `gorm:"primaryKey;autoIncrement:false"`
	RecognitionSystemID uint      `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`

	SourceDatabase    *SourceDatabase    `gorm:"foreignKey:SourceDatabaseID;constraint:OnDelete:CASCADE"`
	RecognitionSystem *RecognitionSystem `gorm:"foreignKey:RecognitionSystemID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (SourceSystemLink) TableName() string {
	return "source_system_links"
}
