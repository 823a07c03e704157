package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightdelay/flight"
)

func TestCanonicalIsStable(t *testing.T) {
	a := Canonical()
	b := Canonical()
	require.True(t, a.Equal(b))
	require.NoError(t, a.Validate())
	assert.Equal(t, 10, a.Width())
	assert.Equal(t, CanonicalVersion, a.Version)

	a.Columns[0] = "mutated"
	assert.Equal(t, "OPERA_Latin American Wings", Canonical().Columns[0])
}

func TestNormalizeEndToEndRecord(t *testing.T) {
	records := []flight.Record{{Carrier: "Sky Airline", FlightType: "I", Month: 7}}
	frame, used := Normalize(records, Canonical())

	require.Equal(t, 1, frame.Rows())
	require.Equal(t, Canonical().Columns, frame.Columns())
	assert.True(t, used.Equal(Canonical()))

	ones := map[string]bool{"OPERA_Sky Airline": true, "MES_7": true, "TIPOVUELO_I": true}
	for j, col := range frame.Columns() {
		want := 0.0
		if ones[col] {
			want = 1
		}
		assert.Equal(t, want, frame.At(0, j), col)
	}
}

func TestNormalizeUnknownCarrier(t *testing.T) {
	records := []flight.Record{{Carrier: "Aerolineas Imaginarias", FlightType: "N", Month: 10}}
	frame, _ := Normalize(records, Canonical())

	carriers := 0
	for j, col := range frame.Columns() {
		if strings.HasPrefix(col, "OPERA_") {
			carriers++
			assert.Zero(t, frame.At(0, j), col)
		}
	}
	require.NotZero(t, carriers)
	v, ok := frame.Value(0, "MES_10")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestNormalizeDropsUnlistedColumns(t *testing.T) {
	custom := &Schema{Version: "test", Columns: []string{"MES_3", "OPERA_Copa Air"}}
	records := []flight.Record{
		{Carrier: "Copa Air", FlightType: "I", Month: 3},
		{Carrier: "Grupo LATAM", FlightType: "N", Month: 5},
	}
	frame, _ := Normalize(records, custom)

	assert.Equal(t, []string{"MES_3", "OPERA_Copa Air"}, frame.Columns())
	assert.Equal(t, [][]float64{{1, 1}, {0, 0}}, frame.Matrix())
}

func TestNormalizeEmpty(t *testing.T) {
	frame, used := Normalize(nil, Canonical())
	assert.Equal(t, 0, frame.Rows())
	assert.Equal(t, 10, frame.Width())
	assert.NotNil(t, used)
}

func TestNormalizeCanonicalisesInputs(t *testing.T) {
	records := []flight.Record{{Carrier: "  Copa Air ", FlightType: " i", Month: 11}}
	frame, _ := Normalize(records, Canonical())

	v, _ := frame.Value(0, "OPERA_Copa Air")
	assert.Equal(t, 1.0, v)
	v, _ = frame.Value(0, "TIPOVUELO_I")
	assert.Equal(t, 1.0, v)
}

func TestCreateRecordsSortOrderReferences(t *testing.T) {
	base := &Schema{Version: "custom", Columns: []string{"MES_2", "MES_3", "TIPOVUELO_N", "OPERA_Sky Airline"}}
	records := []flight.Record{
		{Carrier: "Sky Airline", FlightType: "N", Month: 3},
		{Carrier: "Grupo LATAM", FlightType: "I", Month: 2},
		{Carrier: "Copa Air", FlightType: "N", Month: 12},
	}
	frame, created := Create(records, base)

	assert.Equal(t, "Copa Air", created.References[FieldCarrier])
	assert.Equal(t, "I", created.References[FieldFlightType])
	assert.Equal(t, "2", created.References[FieldMonth])
	assert.Nil(t, base.References, "base schema must not be mutated")

	// MES_2 is the reference, so it never fires.
	assert.Equal(t, [][]float64{
		{0, 1, 1, 1},
		{0, 0, 0, 0},
		{0, 0, 1, 0},
	}, frame.Matrix())

	again, _ := Normalize(records, created)
	assert.True(t, frame.Equal(again, 0))
}

func TestCreateKeepsDeclaredReferences(t *testing.T) {
	records := []flight.Record{
		{Carrier: "Aerolineas Argentinas", FlightType: "I", Month: 1},
		{Carrier: "Sky Airline", FlightType: "N", Month: 7},
	}
	_, created := Create(records, nil)
	assert.Equal(t, "N", created.References[FieldFlightType])
	assert.Equal(t, "1", created.References[FieldMonth])
	assert.Equal(t, "Aerolineas Argentinas", created.References[FieldCarrier])
}

func TestValidate(t *testing.T) {
	assert.Error(t, (&Schema{Columns: []string{"MES_1"}}).Validate())
	assert.Error(t, (&Schema{Version: "v"}).Validate())
	assert.Error(t, (&Schema{Version: "v", Columns: []string{"MES_1", "MES_1"}}).Validate())
	assert.Error(t, (&Schema{Version: "v", Columns: []string{"DIA_3"}}).Validate())
	assert.Error(t, (&Schema{Version: "v", Columns: []string{"MES_"}}).Validate())
	assert.Error(t, (&Schema{Version: "v", Columns: []string{"MES_1"}, References: map[Field]string{"DIA": "x"}}).Validate())
	assert.NoError(t, (&Schema{Version: "v", Columns: []string{"MES_1", "OPERA_Copa Air"}}).Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	content := `version: top3-v2
columns:
  - OPERA_Grupo LATAM
  - MES_7
  - TIPOVUELO_I
references:
  TIPOVUELO: N
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "top3-v2", s.Version)
	assert.Equal(t, []string{"OPERA_Grupo LATAM", "MES_7", "TIPOVUELO_I"}, s.Columns)
	assert.Equal(t, "N", s.References[FieldFlightType])

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: x\ncolumns: [FOO_1]\n"), 0o600))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}

func TestFrameEqual(t *testing.T) {
	a, err := NewFrame([]string{"a", "b"}, [][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	b, err := NewFrame([]string{"a", "b"}, [][]float64{{1, 2}, {3, 4.0000001}})
	require.NoError(t, err)
	c, err := NewFrame([]string{"b", "a"}, [][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)

	assert.True(t, a.Equal(b, 1e-6))
	assert.False(t, a.Equal(b, 0))
	assert.False(t, a.Equal(c, 1e-6))

	_, err = NewFrame([]string{"a"}, [][]float64{{1, 2}})
	assert.Error(t, err)
}
