package entities

import "time"

// WatchlistAlert is a restriction copied from the upstream alert source.
// A subject may have several alerts over time; each upstream update yields
// a new row, ordered by DownloadedAt.
type WatchlistAlert struct {
	ID uint `gorm:"primaryKey"`
	// Sequence is the upstream alert identifier. It is not unique here
	// because updates to the same alert are stored as new rows.
	Sequence   int64  `gorm:"not null;index"`
	TypeCode   int    `gorm:"not null"`
	StatusCode int    `gorm:"not null"`
	Name       string `gorm:"type:varchar(200);not null;index:idx_alerts_subject,priority:1"`

	BirthDate     *time.Time `gorm:"type:date;index:idx_alerts_subject,priority:2"`
	MotherName    *string    `gorm:"type:varchar(200)"`
	FatherName    *string    `gorm:"type:varchar(200)"`
	NationalID    *string    `gorm:"type:varchar(11);index"`
	WarrantNumber *string    `gorm:"type:varchar(50)"`

	AlertUpdatedAt   *time.Time
	SubjectUpdatedAt *time.Time
	DownloadedAt     time.Time `gorm:"not null;index"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (WatchlistAlert) TableName() string {
	return "watchlist_alerts"
}

// AlertMatch pairs an alert with a biometric record. Created only by the
// resolver, never deleted.
type AlertMatch struct {
	ID        uint      `gorm:"primaryKey"`
	AlertID   uint      `gorm:"not null;uniqueIndex:idx_alert_record,priority:1"`
	RecordID  uint      `gorm:"not null;uniqueIndex:idx_alert_record,priority:2;index"`
	Rule      string    `gorm:"type:varchar(50);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`

	Alert  *WatchlistAlert  `gorm:"foreignKey:AlertID;constraint:OnDelete:CASCADE"`
	Record *BiometricRecord `gorm:"foreignKey:RecordID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (AlertMatch) TableName() string {
	return "alert_matches"
}

// CardFailed marks an AlertSystemLink whose last send attempt failed.
const CardFailed int64 = -1

// AlertSystemLink holds the card an alert match produced on one recognition
// system. nil means never attempted, CardFailed means attempted and failing.
type AlertSystemLink struct {
	ID                  uint      `gorm:"primaryKey"`
	AlertMatchID        uint      `gorm:"not null;uniqueIndex:idx_match_system,priority:1"`
	RecognitionSystemID uint      `gorm:"not null;uniqueIndex:idx_match_system,priority:2;index"`
	CardID              *int64    `gorm:"index"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`

	AlertMatch        *AlertMatch        `gorm:"foreignKey:AlertMatchID;constraint:OnDelete:CASCADE"`
	RecognitionSystem *RecognitionSystem `gorm:"foreignKey:RecognitionSystemID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (AlertSystemLink) TableName() string {
	return "alert_system_links"
}
