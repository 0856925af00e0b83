package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Setenv("MITRA_TEST_DB_PASSWORD", "s3cret")
	t.Setenv("MITRA_TEST_EMPTY", "")

	dir := t.TempDir()
	secretFile := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(secretFile, []byte("from-file\n"), 0o600))

	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", false},
		{"literal", "hunter2", "hunter2", false},
		{"literal dollar", "pa$$word", "pa$$word", false},
		{"env", "${MITRA_TEST_DB_PASSWORD}", "s3cret", false},
		{"embedded env", "mysql://u:${MITRA_TEST_DB_PASSWORD}@db/x", "mysql://u:s3cret@db/x", false},
		{"default", "${MITRA_TEST_UNSET:-fallback}", "fallback", false},
		{"empty default", "${MITRA_TEST_EMPTY:-}", "", false},
		{"missing", "${MITRA_TEST_UNSET}", "", true},
		{"file", "file:" + secretFile, "from-file", false},
		{"missing file", "file:" + filepath.Join(dir, "nope"), "", true},
		{"directory", "file:" + dir, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))

	_, err := ReadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
