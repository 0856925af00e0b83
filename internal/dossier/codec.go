package dossier

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/textnorm"
)

// Codec converts between dossier bytes and Fields.
type Codec interface {
	Decode(data []byte) (*Fields, error)
	Encode(f *Fields) ([]byte, error)
}

// Separators of the tagged text format.
const (
	FieldSeparator  = 0x1D // GS, between fields of one record
	RecordSeparator = 0x1C // FS, between records
)

// Field tags.
const (
	TagSourceDatabase = "1.008"
	TagName           = "2.030"
	TagBirthDate      = "2.035"
	TagBirthplace     = "2.037"
	TagNationality    = "2.038"
	TagSex            = "2.039"
	TagFather         = "2.201"
	TagMother         = "2.202"
	TagDocument       = "2.211"
	TagNationalID     = "2.212"
	TagForeignID      = "2.215"
	TagPassport       = "2.216"
	TagSocialName     = "2.224"
	TagWarrantNumber  = "2.225"
	TagFaceImage      = "10.999"
)

// TaggedCodec implements Codec for tag:value records. Unknown tags are
// ignored on decode. Encode always writes the canonical form: records in
// ascending record type, fields in ascending numeric tag, images in their
// original order.
type TaggedCodec struct{}

// NewTaggedCodec returns the default codec.
func NewTaggedCodec() TaggedCodec {
	return TaggedCodec{}
}

// Decode parses data and validates the result.
func (TaggedCodec) Decode(data []byte) (*Fields, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, validationError(ErrEmpty)
	}

	f := &Fields{}
	for _, record := range bytes.Split(data, []byte{RecordSeparator}) {
		for _, raw := range bytes.Split(record, []byte{FieldSeparator}) {
			raw = bytes.TrimSpace(raw)
			if len(raw) == 0 {
				continue
			}
			key, value, ok := strings.Cut(string(raw), ":")
			if !ok {
				return nil, codecError(fmt.Errorf("malformed field %q", truncate(string(raw), 20)))
			}
			parsed, err := parseTag(strings.TrimSpace(key))
			if err != nil {
				return nil, codecError(err)
			}
			f.set(parsed.String(), value)
		}
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Fields) set(tag, value string) {
	switch tag {
	case TagSourceDatabase:
		f.SourceDatabase = textnorm.SourceName(value)
	case TagName:
		f.Name = textnorm.Name(value)
	case TagSocialName:
		f.SocialName = textnorm.Name(value)
	case TagBirthDate:
		if d, ok := textnorm.BirthDate(value); ok {
			f.BirthDate = d
		}
	case TagBirthplace:
		f.Birthplace = textnorm.Name(value)
	case TagNationality:
		f.Nationality = textnorm.Name(value)
	case TagSex:
		f.Sex = textnorm.Sex(value)
	case TagFather:
		f.FatherName = textnorm.Name(value)
	case TagMother:
		f.MotherName = textnorm.Name(value)
	case TagDocument:
		f.Document = textnorm.Document(value)
	case TagNationalID:
		if id, ok := textnorm.NationalID(value); ok {
			f.NationalID = id
		}
	case TagForeignID:
		f.ForeignID = textnorm.Document(value)
	case TagPassport:
		f.Passport = textnorm.Document(value)
	case TagWarrantNumber:
		if d := strings.TrimSpace(value); textnorm.AllDigits(d) {
			f.WarrantNumber = d
		}
	case TagFaceImage:
		if img := strings.TrimSpace(value); img != "" {
			f.Images = append(f.Images, img)
		}
	}
}

// Encode writes f in canonical form.
func (TaggedCodec) Encode(f *Fields) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	type field struct {
		tag   tag
		value string
	}
	var fields []field
	add := func(t, value string) {
		if value == "" {
			return
		}
		parsed, _ := parseTag(t)
		fields = append(fields, field{tag: parsed, value: clean(value)})
	}

	add(TagSourceDatabase, f.SourceDatabase)
	add(TagName, f.Name)
	add(TagSocialName, f.SocialName)
	if f.HasBirthDate() {
		add(TagBirthDate, f.BirthDate.UTC().Format("2006-01-02"))
	}
	add(TagBirthplace, f.Birthplace)
	add(TagNationality, f.Nationality)
	add(TagSex, f.Sex)
	add(TagFather, f.FatherName)
	add(TagMother, f.MotherName)
	add(TagDocument, f.Document)
	add(TagNationalID, f.NationalID)
	add(TagForeignID, f.ForeignID)
	add(TagPassport, f.Passport)
	add(TagWarrantNumber, f.WarrantNumber)
	for _, img := range f.Images {
		add(TagFaceImage, img)
	}

	// stable keeps repeated image tags in order
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].tag.less(fields[j].tag)
	})

	var buf bytes.Buffer
	for i, fl := range fields {
		if i > 0 {
			if fl.tag.record != fields[i-1].tag.record {
				buf.WriteByte(RecordSeparator)
			} else {
				buf.WriteByte(FieldSeparator)
			}
		}
		buf.WriteString(fl.tag.String())
		buf.WriteByte(':')
		buf.WriteString(fl.value)
	}
	return buf.Bytes(), nil
}

// tag is a parsed record.field pair.
type tag struct {
	record int
	field  int
}

func parseTag(s string) (tag, error) {
	rec, fld, ok := strings.Cut(s, ".")
	if !ok {
		return tag{}, fmt.Errorf("invalid tag %q", s)
	}
	r, err := strconv.Atoi(rec)
	if err != nil || r < 0 {
		return tag{}, fmt.Errorf("invalid record number in tag %q", s)
	}
	f, err := strconv.Atoi(fld)
	if err != nil || f < 0 {
		return tag{}, fmt.Errorf("invalid field number in tag %q", s)
	}
	return tag{record: r, field: f}, nil
}

func (t tag) less(o tag) bool {
	if t.record != o.record {
		return t.record < o.record
	}
	return t.field < o.field
}

func (t tag) String() string {
	return fmt.Sprintf("%d.%03d", t.record, t.field)
}

// clean removes separator bytes so a value cannot split a record.
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		if r == FieldSeparator || r == RecordSeparator {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func codecError(err error) error {
	return errors.New(err).
		Component("dossier").
		Category(errors.CategoryCodec).
		Build()
}
