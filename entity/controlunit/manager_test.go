package controlunit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity/controlunit"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/codec"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
)

type recordingWriter struct {
	states map[string]string
	fail   map[string]error
}

func (w *recordingWriter) SetControlUnitState(_ context.Context, id string, state string) error {
	if err := w.fail[id]; err != nil {
		return err
	}
	w.states[id] = state
	return nil
}

func catalogs() (*entity.TrafficCatalog, *entity.SignalCatalog) {
	traffic := entity.NewTrafficCatalog()
	traffic.TrafficLights["J1"] = 3
	traffic.TrafficLights["J2"] = 0
	signal := &entity.SignalCatalog{ControlUnits: []entity.ControlUnitInfo{
		{ID: "1", Heads: 3},
		{ID: "2", Heads: 2},
	}}
	return traffic, signal
}

func TestTranslate(t *testing.T) {
	s, err := controlunit.Translate([]entity.HeadState{
		entity.HeadRed, entity.HeadRedAmber, entity.HeadGreen, entity.HeadGreenMinor,
		entity.HeadAmber, entity.HeadOff, entity.HeadFlashingAmber,
	})
	require.NoError(t, err)
	assert.Equal(t, "ruGgyOo", s)

	_, err = controlunit.Translate([]entity.HeadState{"blue"})
	assert.Error(t, err)
}

func TestInitResolvesBothEngines(t *testing.T) {
	traffic, signal := catalogs()
	m := controlunit.NewManager()
	require.NoError(t, m.Init([]config.Binding{
		{ID: "CU1", Traffic: "J1", Signal: "1"},
		{ID: "CU2", Traffic: "J2", Signal: "2"},
	}, traffic, signal))
	assert.Equal(t, []string{"CU1", "CU2"}, m.IDs())

	err := m.Init([]config.Binding{
		{ID: "CU1", Traffic: "J1", Signal: "1"},
		{ID: "CU9", Traffic: "J1", Signal: "9"},
	}, traffic, signal)
	var ube *entity.UnresolvedBindingError
	require.ErrorAs(t, err, &ube)
	assert.Equal(t, map[string]string{"CU9": entity.EngineSignal}, ube.IDs)
	assert.Equal(t, 0, m.Len())
}

func TestReset(t *testing.T) {
	traffic, signal := catalogs()
	m := controlunit.NewManager()
	require.NoError(t, m.Init([]config.Binding{{ID: "CU1", Traffic: "J1", Signal: "1"}}, traffic, signal))
	m.Reset()
	assert.Equal(t, 0, m.Len())
	_, err := m.GetOrError("CU1")
	assert.Error(t, err)
}

func TestInitRejectsHeadMismatch(t *testing.T) {
	traffic, signal := catalogs()
	m := controlunit.NewManager()
	err := m.Init([]config.Binding{{ID: "CU1", Traffic: "J1", Signal: "2"}}, traffic, signal)
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestApply(t *testing.T) {
	traffic, signal := catalogs()
	m := controlunit.NewManager()
	require.NoError(t, m.Init([]config.Binding{
		{ID: "CU1", Traffic: "J1", Signal: "1"},
		{ID: "CU2", Traffic: "J2", Signal: "2"},
	}, traffic, signal))

	w := &recordingWriter{states: map[string]string{}, fail: map[string]error{}}
	err := m.Apply(context.Background(), w, []entity.ControlUnitState{
		{ID: "1", Heads: []entity.HeadState{entity.HeadRed, entity.HeadGreen, entity.HeadAmber}},
		{ID: "2", Heads: []entity.HeadState{entity.HeadGreen, entity.HeadRed}},
		{ID: "unbound", Heads: []entity.HeadState{entity.HeadGreen}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"J1": "rGy", "J2": "Gr"}, w.states)

	s, ok := m.Get("CU1")
	require.True(t, ok)
	assert.Equal(t, "rGy", s.TrafficState)
	assert.Equal(t, []entity.HeadState{entity.HeadRed, entity.HeadGreen, entity.HeadAmber}, s.Heads)
}

func TestApplyContinuesAfterFailure(t *testing.T) {
	traffic, signal := catalogs()
	m := controlunit.NewManager()
	require.NoError(t, m.Init([]config.Binding{
		{ID: "CU1", Traffic: "J1", Signal: "1"},
		{ID: "CU2", Traffic: "J2", Signal: "2"},
	}, traffic, signal))

	boom := errors.New("boom")
	w := &recordingWriter{states: map[string]string{}, fail: map[string]error{"J1": boom}}
	err := m.Apply(context.Background(), w, []entity.ControlUnitState{
		{ID: "1", Heads: []entity.HeadState{entity.HeadRed, entity.HeadGreen, entity.HeadAmber}},
		{ID: "2", Heads: []entity.HeadState{entity.HeadGreen, entity.HeadRed}},
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, map[string]string{"J2": "Gr"}, w.states)

	// link数量不一致
	err = m.Apply(context.Background(), w, []entity.ControlUnitState{
		{ID: "1", Heads: []entity.HeadState{entity.HeadRed}},
	})
	assert.Error(t, err)
}

func TestGetControlUnitsRPC(t *testing.T) {
	traffic, signal := catalogs()
	m := controlunit.NewManager()
	require.NoError(t, m.Init([]config.Binding{{ID: "CU1", Traffic: "J1", Signal: "1"}}, traffic, signal))
	w := &recordingWriter{states: map[string]string{}}
	require.NoError(t, m.Apply(context.Background(), w, []entity.ControlUnitState{
		{ID: "1", Heads: []entity.HeadState{entity.HeadGreen, entity.HeadGreen, entity.HeadRed}},
	}))

	mux := http.NewServeMux()
	m.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := connect.NewClient[controlunit.GetControlUnitsRequest, controlunit.GetControlUnitsResponse](
		srv.Client(), srv.URL+controlunit.ControlUnitServiceGetControlUnitsProcedure, codec.WithJSON(),
	)
	res, err := client.CallUnary(context.Background(), connect.NewRequest(&controlunit.GetControlUnitsRequest{}))
	require.NoError(t, err)
	require.Len(t, res.Msg.ControlUnits, 1)
	assert.Equal(t, "GGr", res.Msg.ControlUnits[0].TrafficState)
}
