// Package alerts copies warrant and restriction alerts from the upstream
// database into the local store.
package alerts

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
)

// Upstream is one alert row as read from the upstream database.
type Upstream struct {
	Sequence         int64
	TypeCode         int
	StatusCode       int
	Name             string
	BirthDate        *time.Time
	MotherName       *string
	FatherName       *string
	NationalID       *string
	WarrantNumber    *string
	AlertUpdatedAt   *time.Time
	SubjectUpdatedAt *time.Time
	DownloadedAt     time.Time
}

// Query selects upstream alerts.
type Query struct {
	// Since is the previous high-water mark. Rows whose alert or subject
	// changed after it are returned.
	Since     time.Time
	TypeCodes []int
	// Statuses restricts the status codes; empty means any status.
	Statuses []int
}

// Source fetches alerts from the upstream system.
type Source interface {
	Fetch(ctx context.Context, q Query) ([]Upstream, error)
}

// upstreamRow maps the upstream alert view.
type upstreamRow struct {
	Sequence         int64      `gorm:"column:sq_alerta_restricao"`
	TypeCode         int        `gorm:"column:sq_tipo_alerta_restricao"`
	StatusCode       int        `gorm:"column:tp_status"`
	Name             string     `gorm:"column:no_qualificado"`
	BirthDate        *time.Time `gorm:"column:dt_nascimento"`
	MotherName       *string    `gorm:"column:no_mae"`
	FatherName       *string    `gorm:"column:no_pai"`
	NationalID       *string    `gorm:"column:nr_cpf"`
	WarrantNumber    *string    `gorm:"column:nr_mandado_prisao"`
	AlertUpdatedAt   *time.Time `gorm:"column:dt_atualizacao_alerta_restricao"`
	SubjectUpdatedAt *time.Time `gorm:"column:dt_atualizacao_qualificado"`
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLSource reads alerts from a relational view through gorm.
type SQLSource struct {
	db    *gorm.DB
	table string
	clock func(ctx context.Context) (time.Time, error)
	owned bool
}

// OpenSQLSource connects to the upstream database described by settings.
func OpenSQLSource(settings *conf.AlertSettings, log logger.Logger) (*SQLSource, error) {
	if settings.DSN == "" {
		return nil, configError(fmt.Errorf("alerts.dsn is empty"))
	}

	var dialector gorm.Dialector
	switch strings.ToLower(settings.Driver) {
	case "", "mysql":
		dialector = mysql.Open(settings.DSN)
	case "sqlite":
		dialector = sqlite.Open(settings.DSN)
	default:
		return nil, configError(fmt.Errorf("unsupported alerts driver %q", settings.Driver))
	}

	var gl gormlogger.Interface = gormlogger.Default.LogMode(gormlogger.Silent)
	if log != nil {
		gl = logger.NewGormLoggerAdapter(log.Module("gorm"), 0)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gl})
	if err != nil {
		return nil, errors.New(err).
			Component("alerts").
			Category(errors.CategoryAlertSource).
			Context("operation", "open_upstream").
			Context("driver", settings.Driver).
			Build()
	}

	src, err := NewSQLSource(db, settings.Table)
	if err != nil {
		return nil, err
	}
	src.owned = true
	return src, nil
}

// NewSQLSource reads the given table through an existing connection.
func NewSQLSource(db *gorm.DB, table string) (*SQLSource, error) {
	if !tableName.MatchString(table) {
		return nil, configError(fmt.Errorf("invalid alerts table name %q", table))
	}
	src := &SQLSource{db: db, table: table}
	src.clock = src.databaseTime
	return src, nil
}

// clockLayouts are the CURRENT_TIMESTAMP renderings of the supported
// drivers: SQLite and MySQL without parseTime return text, MySQL with
// parseTime returns a time that database/sql formats as RFC 3339.
var clockLayouts = []string{time.DateTime, time.RFC3339Nano, "2006-01-02 15:04:05.999999"}

// databaseTime reads CURRENT_TIMESTAMP from the upstream database. The
// watermark is compared with the upstream update columns, so it has to come
// from the same clock.
func (s *SQLSource) databaseTime(ctx context.Context) (time.Time, error) {
	var raw string
	if err := s.db.WithContext(ctx).Raw("SELECT CURRENT_TIMESTAMP").Scan(&raw).Error; err != nil {
		return time.Time{}, err
	}
	for _, layout := range clockLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unexpected CURRENT_TIMESTAMP value %q", raw)
}

// Fetch implements Source. Every row is stamped with the upstream clock,
// read before the query runs, so updates made while it runs are picked up
// next time.
func (s *SQLSource) Fetch(ctx context.Context, q Query) ([]Upstream, error) {
	downloaded, err := s.clock(ctx)
	if err != nil {
		return nil, errors.New(err).
			Component("alerts").
			Category(errors.CategoryAlertSource).
			Context("operation", "read_upstream_clock").
			Build()
	}

	tx := s.db.WithContext(ctx).
		Table(s.table).
		Where("sq_tipo_alerta_restricao IN ?", q.TypeCodes).
		Where("(dt_atualizacao_alerta_restricao > ? OR dt_atualizacao_qualificado > ?)", q.Since, q.Since).
		Where("(nr_cpf IS NOT NULL OR (dt_nascimento IS NOT NULL AND (no_mae IS NOT NULL OR no_pai IS NOT NULL)))")
	if len(q.Statuses) > 0 {
		tx = tx.Where("tp_status IN ?", q.Statuses)
	}

	var rows []upstreamRow
	if err := tx.Order("sq_alerta_restricao").Find(&rows).Error; err != nil {
		return nil, errors.New(err).
			Component("alerts").
			Category(errors.CategoryAlertSource).
			Context("operation", "fetch_alerts").
			Context("table", s.table).
			Build()
	}

	out := make([]Upstream, len(rows))
	for i, r := range rows {
		out[i] = Upstream{
			Sequence:         r.Sequence,
			TypeCode:         r.TypeCode,
			StatusCode:       r.StatusCode,
			Name:             r.Name,
			BirthDate:        r.BirthDate,
			MotherName:       r.MotherName,
			FatherName:       r.FatherName,
			NationalID:       r.NationalID,
			WarrantNumber:    r.WarrantNumber,
			AlertUpdatedAt:   r.AlertUpdatedAt,
			SubjectUpdatedAt: r.SubjectUpdatedAt,
			DownloadedAt:     downloaded,
		}
	}
	return out, nil
}

// Close closes the connection if the source opened it.
func (s *SQLSource) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func configError(err error) error {
	return errors.New(err).
		Component("alerts").
		Category(errors.CategoryConfiguration).
		Build()
}
