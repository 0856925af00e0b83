package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/testutil"
)

const sample = `
sources:
  - name: RR/CIVIL
  - name: RR/CRIMINAL
  - name: RR/LEGACY
    active: false
systems:
  - name: FACE-RR
    url: http://10.0.4.12:8080
    sources: [RR/CIVIL, RR/CRIMINAL, RR/LEGACY]
  - name: FACE-AM
    url: https://face-am.local
    sources: [RR/CRIMINAL]
`

func TestParse(t *testing.T) {
	t.Parallel()

	f, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, f.Sources, 3)
	require.Len(t, f.Systems, 2)
	assert.Nil(t, f.Sources[0].Active)
	require.NotNil(t, f.Sources[2].Active)
	assert.False(t, *f.Sources[2].Active)

	empty, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty.Sources)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"unknown key", "sources:\n  - name: A\n    enabled: true\n", "enabled"},
		{"empty source name", "sources:\n  - name: \"\"\n", "name is empty"},
		{"duplicate source", "sources:\n  - name: A\n  - name: A\n", `duplicate source "A"`},
		{"relative url", "systems:\n  - name: S\n    url: face.local\n", "absolute http(s) URL"},
		{"unknown source", "sources:\n  - name: A\nsystems:\n  - name: S\n    url: http://s\n    sources: [B]\n", `unknown source "B"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "catalog.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestImport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	f, err := Load(path)
	require.NoError(t, err)

	store := repository.NewStore(testutil.NewTestDB(t))
	res, err := Import(ctx, store, f, testutil.DiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, Result{Sources: 3, Systems: 2, NewLinks: 4}, res)

	rr, err := store.Catalog.SystemByName(ctx, "FACE-RR")
	require.NoError(t, err)
	active, err := store.Catalog.SourcesForSystem(ctx, rr.ID, true)
	require.NoError(t, err)
	assert.Len(t, active, 2, "RR/LEGACY is inactive")

	// re-import is idempotent and applies changes
	f.Sources[2].Active = testutil.Ptr(true)
	f.Systems[1].URL = "https://face-am2.local"
	res, err = Import(ctx, store, f, testutil.DiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewLinks)

	active, err = store.Catalog.SourcesForSystem(ctx, rr.ID, true)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	am, err := store.Catalog.SystemByName(ctx, "FACE-AM")
	require.NoError(t, err)
	assert.Equal(t, "https://face-am2.local", am.BaseURL)
}
