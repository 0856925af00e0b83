package dossier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitrarr/mitra-go/internal/errors"
)

// raw joins records with FS and fields with GS.
func raw(records ...[]string) []byte {
	parts := make([]string, len(records))
	for i, r := range records {
		parts[i] = strings.Join(r, "\x1d")
	}
	return []byte(strings.Join(parts, "\x1c"))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	data := raw(
		[]string{"1.008:RR/CIVIL"},
		[]string{
			"2.030: João  da Silva ",
			"2.035:01/02/1990",
			"2.039:1",
			"2.202:Maria Silva",
			"2.201:José Silva",
			"2.212:529.982.247-25",
			"2.225:12AB",
			"2.999:ignored",
		},
		[]string{"10.999:aGVsbG8=", "10.999:d29ybGQ="},
	)

	f, err := NewTaggedCodec().Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "RR/CIVIL", f.SourceDatabase)
	assert.Equal(t, "JOAO DA SILVA", f.Name)
	assert.Equal(t, time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC), f.BirthDate)
	assert.Equal(t, "M", f.Sex)
	assert.Equal(t, "MARIA SILVA", f.MotherName)
	assert.Equal(t, "JOSE SILVA", f.FatherName)
	assert.Equal(t, "52998224725", f.NationalID)
	assert.Empty(t, f.WarrantNumber, "non numeric warrant numbers are dropped")
	assert.Equal(t, []string{"aGVsbG8=", "d29ybGQ="}, f.Images)
}

func TestDecode_NationalID(t *testing.T) {
	t.Parallel()

	f, err := NewTaggedCodec().Decode(raw([]string{"1.008:RR/CIVIL"}, []string{"2.030:ANA", "2.212:11111111111"}))
	require.NoError(t, err)
	assert.Empty(t, f.NationalID, "repeated digit placeholders are dropped")

	f, err = NewTaggedCodec().Decode(raw([]string{"1.008:RR/CIVIL"}, []string{"2.030:ANA", "2.212:4567"}))
	require.NoError(t, err)
	assert.Equal(t, "00000004567", f.NationalID)
}

func TestDecode_FederalSourcePrefix(t *testing.T) {
	t.Parallel()

	f, err := NewTaggedCodec().Decode(raw([]string{"1.008:sismigra"}, []string{"2.030:ANA"}))
	require.NoError(t, err)
	assert.Equal(t, "PF/SISMIGRA", f.SourceDatabase)
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		sentinel error
		category errors.ErrorCategory
	}{
		{"empty", []byte("  \n"), ErrEmpty, errors.CategoryValidation},
		{"no name", raw([]string{"1.008:RR/CIVIL"}, []string{"2.030:   "}), ErrMissingName, errors.CategoryValidation},
		{"no source", raw([]string{"2.030:ANA"}), ErrMissingSource, errors.CategoryValidation},
		{"malformed field", raw([]string{"1.008:RR/CIVIL", "garbage"}), nil, errors.CategoryCodec},
		{"bad tag", raw([]string{"x.1:RR/CIVIL"}), nil, errors.CategoryCodec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewTaggedCodec().Decode(tt.data)
			require.Error(t, err)
			if tt.sentinel != nil {
				require.ErrorIs(t, err, tt.sentinel)
			}
			assert.True(t, errors.IsCategory(err, tt.category), "category of %v", err)
		})
	}
}

func TestEncode_Canonical(t *testing.T) {
	t.Parallel()

	f := &Fields{
		SourceDatabase: "RR/CIVIL",
		Name:           "JOAO DA SILVA",
		BirthDate:      time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		MotherName:     "MARIA SILVA",
		NationalID:     "52998224725",
		Images:         []string{"aW1n"},
	}

	out, err := NewTaggedCodec().Encode(f)
	require.NoError(t, err)

	want := "1.008:RR/CIVIL\x1c" +
		"2.030:JOAO DA SILVA\x1d2.035:1990-01-01\x1d2.202:MARIA SILVA\x1d2.212:52998224725\x1c" +
		"10.999:aW1n"
	assert.Equal(t, want, string(out))

	back, err := NewTaggedCodec().Decode(out)
	require.NoError(t, err)
	assert.Equal(t, f, back)
}

func TestEncode_RejectsInvalidFields(t *testing.T) {
	t.Parallel()

	_, err := NewTaggedCodec().Encode(&Fields{Name: "ANA"})
	require.ErrorIs(t, err, ErrMissingSource)
}

func TestFingerprint_IgnoresLayout(t *testing.T) {
	t.Parallel()

	codec := NewTaggedCodec()
	a, err := codec.Decode(raw(
		[]string{"1.008:RR/CIVIL"},
		[]string{"2.030:joão da silva", "2.212:52998224725", "2.035:1990-01-01"},
	))
	require.NoError(t, err)
	b, err := codec.Decode(raw(
		[]string{"2.35:01/01/1990", "2.212:529.982.247-25", "2.030:  JOAO   DA SILVA"},
		[]string{"1.8:RR/CIVIL"},
	))
	require.NoError(t, err)

	fa, err := Fingerprint(codec, a)
	require.NoError(t, err)
	fb, err := Fingerprint(codec, b)
	require.NoError(t, err)

	assert.Len(t, fa, 64)
	assert.Equal(t, fa, fb)

	b.MotherName = "MARIA"
	fc, err := Fingerprint(codec, b)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)
}
