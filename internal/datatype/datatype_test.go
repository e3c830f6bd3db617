package datatype_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/mxkrt/dadb/internal/datatype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConverters matches spec.md §8 property 9 and
// original_source/dadb/test/test_datatype.py's test_converters.
func TestConverters(t *testing.T) {
	got, err := datatype.FromISO8601("20220116T012345+00:00")
	require.NoError(t, err)
	want := time.Date(2022, 1, 16, 1, 23, 45, 0, time.UTC)
	assert.True(t, got.Equal(want), "got %v want %v", got, want)

	s := datatype.Isoformat(time.Date(2016, 4, 16, 14, 23, 45, 0, time.UTC))
	assert.Equal(t, "2016-04-16T14:23:45", s)
}

func TestEncodeDecodeDatetimeRoundTrip(t *testing.T) {
	in := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	enc, err := datatype.Encode(datatype.Datetime, in)
	require.NoError(t, err)

	dec, err := datatype.Decode(datatype.Datetime, enc)
	require.NoError(t, err)
	got, ok := dec.(time.Time)
	require.True(t, ok)
	assert.True(t, got.Equal(in))
}

func TestEncodeDecodeRoundTrips(t *testing.T) {
	cases := []struct {
		name string
		dt   datatype.Type
		in   interface{}
	}{
		{"Integer", datatype.Integer, int64(42)},
		{"String", datatype.String, "hello"},
		{"Bytes", datatype.Bytes, []byte{0, 1, 2}},
		{"BoolTrue", datatype.Bool, true},
		{"BoolFalse", datatype.Bool, false},
		{"Float", datatype.Float, 3.25},
		{"TimeDelta", datatype.TimeDelta, 90 * time.Second},
		{"Data", datatype.Data, int64(7)},
		{"Date", datatype.Date, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			enc, err := datatype.Encode(c.dt, c.in)
			require.NoError(t, err)
			dec, err := datatype.Decode(c.dt, enc)
			require.NoError(t, err)
			assert.EqualValues(t, c.in, dec)
		})
	}
}

func TestEncodeNilValue(t *testing.T) {
	enc, err := datatype.Encode(datatype.String, nil)
	require.NoError(t, err)
	assert.Nil(t, enc)
}

func TestEncodeTypeMismatchIsValueError(t *testing.T) {
	_, err := datatype.Encode(datatype.Integer, "not an int")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dadberr.ErrValue))
}

func TestValidAndColumnType(t *testing.T) {
	assert.True(t, datatype.String.Valid())
	assert.False(t, datatype.Type("Bogus").Valid())

	ct, err := datatype.Integer.ColumnType()
	require.NoError(t, err)
	assert.Equal(t, "INTEGER", ct)

	ct, err = datatype.Bytes.ColumnType()
	require.NoError(t, err)
	assert.Equal(t, "BLOB", ct)

	_, err = datatype.Type("Bogus").ColumnType()
	assert.Error(t, err)
}

func TestAllOrderMatchesSpec(t *testing.T) {
	want := []datatype.Type{
		datatype.Datetime, datatype.Date, datatype.Integer, datatype.String,
		datatype.Bytes, datatype.Bool, datatype.TimeDelta, datatype.Float,
		datatype.NULL, datatype.Data,
	}
	assert.Equal(t, want, datatype.All)
}
