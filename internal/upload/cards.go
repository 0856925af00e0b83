package upload

import (
	"fmt"
	"time"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/dossier"
	"github.com/mitrarr/mitra-go/internal/recognition"
)

// CardFields builds the card for rec. The card goes to the watch list named
// after the record's source database; photos come from the dossier file.
func CardFields(rec *entities.BiometricRecord, f *dossier.Fields) recognition.CardFields {
	meta := map[string]string{
		recognition.MetaRecordID: fmt.Sprint(rec.ID),
	}
	set := func(key string, v *string) {
		if v != nil && *v != "" {
			meta[key] = *v
		}
	}
	set(recognition.MetaNationalID, rec.NationalID)
	set(recognition.MetaMother, rec.MotherName)
	set(recognition.MetaFather, rec.FatherName)
	set(recognition.MetaWarrant, rec.WarrantNumber)
	if rec.BirthDate != nil {
		meta[recognition.MetaBirthDate] = rec.BirthDate.Format(time.DateOnly)
	}

	var source string
	if rec.SourceDatabase != nil {
		source = rec.SourceDatabase.Name
		meta[recognition.MetaSource] = source
	}

	cf := recognition.CardFields{
		Name:      rec.Name,
		WatchList: source,
		Active:    true,
		Comment:   fmt.Sprintf("mitra record #%d", rec.ID),
		Meta:      meta,
	}
	if f != nil {
		cf.Photos = f.Images
	}
	return cf
}
