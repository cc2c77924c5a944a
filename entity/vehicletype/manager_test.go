package vehicletype

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
	"go.mongodb.org/mongo-driver/bson"
)

type staticSource struct {
	entries []RawEntry
	err     error
}

func (s staticSource) Entries(context.Context) ([]RawEntry, error) {
	return s.entries, s.err
}

func (s staticSource) String() string {
	return "static"
}

const additional = `<?xml version="1.0" encoding="UTF-8"?>
<additional>
    <vType id="car" length="5" accel="2.6"/>
    <vType id="broken" length="long"/>
    <vTypeDistribution id="mix">
        <vType id="bus" length="12.4"/>
    </vTypeDistribution>
</additional>
`

func TestLoadSkipsMalformedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vtypes.add.xml")
	require.NoError(t, os.WriteFile(path, []byte(additional), 0o644))

	m := NewManager()
	res, err := m.Load(context.Background(), &FileSource{Path: path})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Loaded)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "broken", res.Failures[0].ID)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Error(t, res.Err())

	car, ok := m.Get("car")
	require.True(t, ok)
	assert.Equal(t, VehicleType{ID: "car", Length: 5}, car)
	bus, ok := m.Get("bus")
	require.True(t, ok)
	assert.Equal(t, 12, bus.Length)
	_, ok = m.Get("broken")
	assert.False(t, ok)
	_, ok = m.Get("truck")
	assert.False(t, ok)
}

func TestLoadDuplicatesLastWins(t *testing.T) {
	m := NewManager()
	res, err := m.Load(context.Background(), staticSource{entries: []RawEntry{
		{Index: 0, ID: "car", Length: "4"},
		{Index: 1, ID: "car", Length: "6"},
		{Index: 2, Length: "3"},
		{Index: 3, ID: "neg", Length: "-1"},
		{Index: 4, ID: "nolen"},
		{Index: 5, ID: "huge", Length: "1e300"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Loaded)
	assert.Len(t, res.Failures, 4)
	_, ok := m.Get("huge")
	assert.False(t, ok)
	car, _ := m.Get("car")
	assert.Equal(t, 6, car.Length)
	assert.Equal(t, 1, m.Len())
}

func TestLoadReplacesPreviousTable(t *testing.T) {
	m := NewManager()
	_, err := m.Load(context.Background(), staticSource{entries: []RawEntry{{ID: "car", Length: "4"}}})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = m.Load(context.Background(), staticSource{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())

	res, err := m.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, res.Err())

	_, err = m.Load(context.Background(), staticSource{entries: []RawEntry{{ID: "car", Length: "4"}}})
	require.NoError(t, err)
	m.Reset()
	assert.Equal(t, 0, m.Len())
}

func TestReadXMLRejectsBrokenDocument(t *testing.T) {
	_, err := ReadXML(strings.NewReader(`<additional><vType id="car" length="5"></additional>`))
	assert.Error(t, err)
}

func TestDecodeDocument(t *testing.T) {
	raw, err := bson.Marshal(bson.M{"id": "car", "length": int32(5)})
	require.NoError(t, err)
	assert.Equal(t, RawEntry{Index: 0, ID: "car", Length: "5"}, decodeDocument(raw, 0))

	raw, err = bson.Marshal(bson.M{"id": "bus", "length": 12.5})
	require.NoError(t, err)
	assert.Equal(t, RawEntry{Index: 1, ID: "bus", Length: "12.5"}, decodeDocument(raw, 1))

	raw, err = bson.Marshal(bson.M{"id": "odd", "length": true})
	require.NoError(t, err)
	assert.Error(t, decodeDocument(raw, 2).Err)

	raw, err = bson.Marshal(bson.M{"id": 7})
	require.NoError(t, err)
	assert.Error(t, decodeDocument(raw, 3).Err)
}

func TestNewSource(t *testing.T) {
	rc := config.NewRuntimeConfig(config.Config{Input: config.Input{
		VehicleTypes: config.VehicleTypeSource{File: "vtypes.xml"},
	}}, "/etc/cosim/cosim.yaml")
	assert.Equal(t, &FileSource{Path: "/etc/cosim/vtypes.xml"}, NewSource(rc))

	rc = config.NewRuntimeConfig(config.Config{Input: config.Input{
		VehicleTypes: config.VehicleTypeSource{URI: "mongodb://localhost", Path: &config.InputPath{DB: "sim", Col: "vtypes"}},
	}}, "")
	src := NewSource(rc)
	require.IsType(t, &MongoSource{}, src)
	assert.Equal(t, "sim.vtypes", src.String())

	assert.Nil(t, NewSource(config.NewRuntimeConfig(config.Config{}, "")))
}
