package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestRedactSensitiveData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		mustNotHave string
		mustHave    string
	}{
		{"token header", "Authorization: Token 9f8e7d6c5b4a", "9f8e7d6c5b4a", "[REDACTED]"},
		{"password pair", "password=hunter22", "hunter22", "password=[REDACTED]"},
		{"senha pair", "senha: segredo123", "segredo123", "[REDACTED]"},
		{"url credentials", "mysql://mitra:s3cret@db:3306/alerts", "s3cret", "mitra:[REDACTED]@db"},
		{"bare cpf", "subject 12345678901 ingested", "12345678901", "*********01"},
		{"formatted cpf", "cpf 123.456.789-01", "123.456.789-01", "***.***.***-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RedactSensitiveData(tt.input)
			assert.NotContains(t, got, tt.mustNotHave)
			assert.Contains(t, got, tt.mustHave)
		})
	}

	assert.Empty(t, RedactSensitiveData(""))
	assert.Equal(t, "dossier archived", RedactSensitiveData("dossier archived"))
}

func TestRedactedField(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[REDACTED]", Redacted("cpf", "12345678901").Value)
	assert.Equal(t, "nists/RR/a.nst", Redacted("location", "nists/RR/a.nst").Value)
	assert.True(t, IsSensitiveKey("FINDFACE_PASSWORD"))
	assert.False(t, IsSensitiveKey("location"))
}

func TestGormLoggerAdapter_Trace(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	adapter := NewGormLoggerAdapter(NewSlogLogger(buf, LogLevelInfo, time.UTC), 10*time.Millisecond)
	ctx := context.Background()

	// Not found and duplicate key are normal control flow
	adapter.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 0 }, gorm.ErrRecordNotFound)
	adapter.Trace(ctx, time.Now(), func() (string, int64) { return "INSERT", 0 }, gorm.ErrDuplicatedKey)
	assert.Empty(t, buf.String())

	adapter.Trace(ctx, time.Now(), func() (string, int64) { return "UPDATE x", 0 }, errors.New("disk I/O error"))
	assert.Contains(t, buf.String(), "query error")

	buf.Reset()
	adapter.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "SELECT slow", 3 }, nil)
	assert.Contains(t, buf.String(), "slow query")
	assert.Same(t, adapter, adapter.LogMode(0))
}
