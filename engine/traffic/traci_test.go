package traffic

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loop struct {
	count     int32
	occupancy float64
}

// fakeSim 只实现协同仿真用到的TraCI命令
type fakeSim struct {
	mu    sync.Mutex
	times []float64
	tls   map[string]string
	loops map[string]loop
}

func newFakeSim() *fakeSim {
	return &fakeSim{
		tls:   make(map[string]string),
		loops: map[string]loop{"e1_0": {count: 3, occupancy: 42.5}},
	}
}

func (s *fakeSim) serve(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	for {
		msg, err := readMessage(r)
		if err != nil {
			return
		}
		id, payload, err := readCommand(bytes.NewReader(msg))
		if err != nil {
			return
		}
		if err := writeMessage(c, s.handle(id, payload)...); err != nil {
			return
		}
		if id == cmdClose {
			return
		}
	}
}

func status(id, result byte, desc string) []byte {
	var b buffer
	b.ubyte(result)
	b.str(desc)
	return command(id, b.Bytes())
}

func (s *fakeSim) handle(id byte, p *bytes.Reader) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch id {
	case cmdGetVersion:
		var b buffer
		b.int32(21)
		b.str("fake sim")
		return [][]byte{status(id, rtypeOK, ""), command(cmdGetVersion, b.Bytes())}
	case cmdSimStep:
		t, _ := readDouble(p)
		s.times = append(s.times, t)
		var b buffer
		b.int32(0)
		return [][]byte{status(id, rtypeOK, ""), b.Bytes()}
	case cmdClose:
		return [][]byte{status(id, rtypeOK, "")}
	case cmdGetInductionLoopVariable:
		v, _ := p.ReadByte()
		oid, _ := readString(p)
		l, ok := s.loops[oid]
		if !ok {
			return [][]byte{status(id, rtypeErr, "Induction loop '"+oid+"' is not known")}
		}
		var b buffer
		b.ubyte(v)
		b.str(oid)
		switch v {
		case varLastStepVehicleNumber:
			b.ubyte(typeInteger)
			b.int32(l.count)
		case varLastStepOccupancy:
			b.ubyte(typeDouble)
			b.double(l.occupancy)
		default:
			return [][]byte{status(id, rtypeNotImplemented, "variable")}
		}
		return [][]byte{status(id, rtypeOK, ""), command(responseGetInductionLoopVariable, b.Bytes())}
	case cmdSetTrafficLightVariable:
		v, _ := p.ReadByte()
		oid, _ := readString(p)
		typ, _ := p.ReadByte()
		val, _ := readString(p)
		if v != varRedYellowGreenState || typ != typeString {
			return [][]byte{status(id, rtypeErr, "bad set")}
		}
		s.tls[oid] = val
		return [][]byte{status(id, rtypeOK, "")}
	default:
		return [][]byte{status(id, rtypeNotImplemented, "")}
	}
}

func (s *fakeSim) snapshot() ([]float64, map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tls := make(map[string]string, len(s.tls))
	for k, v := range s.tls {
		tls[k] = v
	}
	return append([]float64(nil), s.times...), tls
}

func pipe(t *testing.T) (*Conn, *fakeSim) {
	client, server := net.Pipe()
	sim := newFakeSim()
	go sim.serve(server)
	conn := NewConn(client)
	t.Cleanup(func() { conn.Close() })
	return conn, sim
}

func TestCommandFraming(t *testing.T) {
	short := command(cmdSimStep, []byte{1, 2, 3})
	assert.Equal(t, []byte{5, cmdSimStep, 1, 2, 3}, short)

	long := command(cmdSetTrafficLightVariable, make([]byte, 300))
	assert.Equal(t, byte(0), long[0])
	id, payload, err := readCommand(bytes.NewReader(long))
	require.NoError(t, err)
	assert.Equal(t, byte(cmdSetTrafficLightVariable), id)
	assert.Equal(t, 300, payload.Len())
}

func TestReadMessageLength(t *testing.T) {
	_, err := readMessage(bytes.NewReader([]byte{0x7F, 0xFF, 0xFF, 0xFF}))
	assert.ErrorContains(t, err, "invalid message length")
	_, err = readMessage(bytes.NewReader([]byte{0, 0, 0, 2}))
	assert.Error(t, err)

	msg, err := readMessage(bytes.NewReader([]byte{0, 0, 0, 6, 1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, msg)
}

func TestConnCommands(t *testing.T) {
	conn, sim := pipe(t)
	ctx := context.Background()

	api, id, err := conn.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(21), api)
	assert.Equal(t, "fake sim", id)

	require.NoError(t, conn.SimStep(ctx, 1.5))

	count, err := conn.GetInt(ctx, cmdGetInductionLoopVariable, varLastStepVehicleNumber, "e1_0")
	require.NoError(t, err)
	assert.Equal(t, int32(3), count)
	occ, err := conn.GetDouble(ctx, cmdGetInductionLoopVariable, varLastStepOccupancy, "e1_0")
	require.NoError(t, err)
	assert.InDelta(t, 42.5, occ, 1e-9)

	// 超过255字节，使用扩展长度格式
	state := strings.Repeat("Gr", 200)
	require.NoError(t, conn.SetString(ctx, cmdSetTrafficLightVariable, varRedYellowGreenState, "J1", state))

	times, tls := sim.snapshot()
	assert.Equal(t, []float64{1.5}, times)
	assert.Equal(t, state, tls["J1"])
}

func TestConnStatusError(t *testing.T) {
	conn, _ := pipe(t)
	_, err := conn.GetInt(context.Background(), cmdGetInductionLoopVariable, varLastStepVehicleNumber, "missing")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, byte(rtypeErr), se.Result)
	assert.Contains(t, se.Error(), "missing")
}

func TestConnClose(t *testing.T) {
	conn, _ := pipe(t)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.SimStep(context.Background(), 1), ErrConnClosed)
}
