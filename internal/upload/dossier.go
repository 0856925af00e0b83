package upload

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/dossier"
	"github.com/mitrarr/mitra-go/internal/ingest"
	"github.com/mitrarr/mitra-go/internal/retry"
)

// LoadDossier reads and decodes the dossier of rec. A file missing from its
// stored location is looked for in quarantine, where a failed upload to
// another system may have just moved it; rec.Location is updated when it is
// found there.
func LoadDossier(ctx context.Context, layout ingest.Layout, policy retry.Config, codec dossier.Codec, rec *entities.BiometricRecord) (*dossier.Fields, error) {
	data, outcome, err := retry.ReadFile(ctx, policy, layout.Abs(rec.Location))
	if outcome == retry.ReadMissing && !inTree(rec.Location, layout.Quarantine) {
		alt := layout.QuarantinePath(rec.Location)
		if d, o, _ := retry.ReadFile(ctx, policy, layout.Abs(alt)); o == retry.ReadOK {
			rec.Location = alt
			data, outcome, err = d, o, nil
		}
	}
	if outcome != retry.ReadOK {
		return nil, fmt.Errorf("read dossier %s: %s: %w", rec.Location, outcome, err)
	}

	fields, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode dossier %s: %w", rec.Location, err)
	}
	return fields, nil
}

func inTree(rel, top string) bool {
	return strings.HasPrefix(rel, top+"/")
}
