package entities

import "time"

// BiometricRecord is one ingested dossier. The pipeline only ever changes
// Location and Active after insert.
type BiometricRecord struct {
	ID uint `gorm:"primaryKey"`
	// Fingerprint is the hex SHA-256 of the canonical dossier encoding.
	Fingerprint string `gorm:"type:char(64);not null;uniqueIndex"`
	// Location is the dossier path relative to the application root.
	Location         string `gorm:"type:varchar(500);not null;uniqueIndex"`
	SourceDatabaseID uint   `gorm:"not null;index"`

	Name          string     `gorm:"type:varchar(200);not null;index:idx_records_mother,priority:1;index:idx_records_father,priority:1"`
	SocialName    *string    `gorm:"type:varchar(200)"`
	BirthDate     *time.Time `gorm:"type:date;index:idx_records_mother,priority:2;index:idx_records_father,priority:2"`
	Sex           *string    `gorm:"type:varchar(1)"`
	MotherName    *string    `gorm:"type:varchar(200);index:idx_records_mother,priority:3"`
	FatherName    *string    `gorm:"type:varchar(200);index:idx_records_father,priority:3"`
	Birthplace    *string    `gorm:"type:varchar(100)"`
	Nationality   *string    `gorm:"type:varchar(100)"`
	Document      *string    `gorm:"type:varchar(30)"`
	NationalID    *string    `gorm:"type:varchar(11);index"`
	ForeignID     *string    `gorm:"type:varchar(20)"`
	Passport      *string    `gorm:"type:varchar(20)"`
	WarrantNumber *string    `gorm:"type:varchar(50)"`

	Active    bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	SourceDatabase *SourceDatabase `gorm:"foreignKey:SourceDatabaseID"`
}

// TableName returns the table name for GORM.
func (BiometricRecord) TableName() string {
	return "biometric_records"
}

// RecordSystemLink holds the card a record received on one recognition
// system. CardID is written once; nil means the upload is still pending.
type RecordSystemLink struct {
	ID                  uint      `gorm:"primaryKey"`
	RecordID            uint      `gorm:"not null;uniqueIndex:idx_record_system,priority:1"`
	RecognitionSystemID uint      `gorm:"not null;uniqueIndex:idx_record_system,priority:2;index"`
	CardID              *int64    `gorm:"index"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`

	Record            *BiometricRecord   `gorm:"foreignKey:RecordID;constraint:OnDelete:CASCADE"`
	RecognitionSystem *RecognitionSystem `gorm:"foreignKey:RecognitionSystemID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (RecordSystemLink) TableName() string {
	return "record_system_links"
}
