package entities

import (
	"strconv"
	"time"
)

// LogCode classifies an OperationLog entry.
type LogCode int

const (
	LogRecordCreated    LogCode = 10
	LogRecordDuplicate  LogCode = 11
	LogFileUnreadable   LogCode = 18
	LogInvalidDossier   LogCode = 19
	LogRelationCreated  LogCode = 20
	LogRelationExisted  LogCode = 21
	LogRelationCardSet  LogCode = 22
	LogCardCreated      LogCode = 30
	LogCardExisted      LogCode = 31
	LogUploadFailed     LogCode = 39
	LogMatchDiscovered  LogCode = 40
	LogAlertLinkCreated LogCode = 50
	LogAlertSent        LogCode = 60
	LogAlertDeactivated LogCode = 61
	LogAlertSendFailed  LogCode = 69
)

var logCodeNames = map[LogCode]string{
	LogRecordCreated:    "record_created",
	LogRecordDuplicate:  "record_duplicate",
	LogFileUnreadable:   "file_unreadable",
	LogInvalidDossier:   "invalid_dossier",
	LogRelationCreated:  "relation_created",
	LogRelationExisted:  "relation_existed",
	LogRelationCardSet:  "relation_card_set",
	LogCardCreated:      "card_created",
	LogCardExisted:      "card_existed",
	LogUploadFailed:     "upload_failed",
	LogMatchDiscovered:  "match_discovered",
	LogAlertLinkCreated: "alert_link_created",
	LogAlertSent:        "alert_sent",
	LogAlertDeactivated: "alert_deactivated",
	LogAlertSendFailed:  "alert_send_failed",
}

// String returns a stable name for metrics labels and the status API.
func (c LogCode) String() string {
	if name, ok := logCodeNames[c]; ok {
		return name
	}
	return "code_" + strconv.Itoa(int(c))
}

// IsFailure reports whether the code records a failed operation.
func (c LogCode) IsFailure() bool {
	switch c {
	case LogFileUnreadable, LogInvalidDossier, LogUploadFailed, LogAlertSendFailed:
		return true
	default:
		return false
	}
}

// LogCodes returns every known code in ascending order.
func LogCodes() []LogCode {
	return []LogCode{
		LogRecordCreated, LogRecordDuplicate, LogFileUnreadable, LogInvalidDossier,
		LogRelationCreated, LogRelationExisted, LogRelationCardSet,
		LogCardCreated, LogCardExisted, LogUploadFailed,
		LogMatchDiscovered, LogAlertLinkCreated,
		LogAlertSent, LogAlertDeactivated, LogAlertSendFailed,
	}
}

// OperationLog is an append-only journal entry. OriginID points at the row
// the entry is about when there is one; its table follows from Code.
type OperationLog struct {
	ID        uint      `gorm:"primaryKey"`
	Code      LogCode   `gorm:"not null;index:idx_oplog_code_message,priority:1"`
	OriginID  *uint     `gorm:"index"`
	Message   string    `gorm:"type:varchar(500);not null;index:idx_oplog_code_message,priority:2"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName returns the table name for GORM.
func (OperationLog) TableName() string {
	return "operation_logs"
}

// All returns every entity in migration order.
func All() []any {
	return []any{
		&SourceDatabase{},
		&RecognitionSystem{},
		&SourceSystemLink{},
		&BiometricRecord{},
		&RecordSystemLink{},
		&WatchlistAlert{},
		&AlertMatch{},
		&AlertSystemLink{},
		&OperationLog{},
	}
}
