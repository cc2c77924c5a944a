package traffic

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
)

const netXML = `<net version="1.16">
    <edge id="e0" from="a" to="J1"/>
    <tlLogic id="J1" type="static" programID="0" offset="0">
        <phase duration="31" state="GGrrGGrr"/>
        <phase duration="4"  state="yyrryyrr"/>
    </tlLogic>
    <tlLogic id="J1" type="static" programID="night" offset="0">
        <phase duration="60" state="Gr"/>
    </tlLogic>
    <tlLogic id="J2" type="actuated" programID="0" offset="0">
        <phase duration="20" state="GgrG"/>
    </tlLogic>
</net>
`

const additionalXML = `<additional>
    <inductionLoop id="e1_0" lane="e0_0" pos="10" period="60" file="out.xml"/>
    <e1Detector id="e1_1" lane="e0_1" pos="10" freq="60" file="out.xml"/>
</additional>
`

func writeNetwork(t *testing.T) (netFile, addFile string) {
	dir := t.TempDir()
	netFile = filepath.Join(dir, "city.net.xml")
	addFile = filepath.Join(dir, "det.add.xml")
	require.NoError(t, os.WriteFile(netFile, []byte(netXML), 0o644))
	require.NoError(t, os.WriteFile(addFile, []byte(additionalXML), 0o644))
	return
}

func TestLoadCatalog(t *testing.T) {
	netFile, addFile := writeNetwork(t)
	c, err := LoadCatalog(netFile, addFile)
	require.NoError(t, err)

	links, ok := c.TrafficLight("J1")
	require.True(t, ok)
	assert.Equal(t, 8, links)
	links, ok = c.TrafficLight("J2")
	require.True(t, ok)
	assert.Equal(t, 4, links)
	_, ok = c.TrafficLight("J3")
	assert.False(t, ok)

	assert.True(t, c.HasDetector("e1_0"))
	assert.True(t, c.HasDetector("e1_1"))
	assert.False(t, c.HasDetector("e1_2"))

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.net.xml"))
	assert.Error(t, err)
}

func listen(t *testing.T) (int, *fakeSim) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	sim := newFakeSim()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go sim.serve(c)
		}
	}()
	return l.Addr().(*net.TCPAddr).Port, sim
}

func newEngine(t *testing.T, port int) *Engine {
	netFile, addFile := writeNetwork(t)
	rc := config.NewRuntimeConfig(config.Config{
		Traffic: config.Traffic{
			NetFile:         netFile,
			AdditionalFiles: []string{addFile},
			Host:            "127.0.0.1",
			Port:            port,
			ConnectTimeout:  time.Second,
		},
		Control: config.Control{Step: config.ControlStep{Total: 10, Interval: 0.5}},
	}, "")
	e, err := New(rc)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineLifecycle(t *testing.T) {
	port, sim := listen(t)
	e := newEngine(t, port)
	ctx := context.Background()

	_, err := e.ReadDetector(ctx, "e1_0")
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, e.Initialize(ctx))
	assert.Error(t, e.Initialize(ctx))

	task := e.Task()
	step, err := task(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), step)
	step, err = task(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), step)
	require.NoError(t, e.Step(ctx, 6))

	d, err := e.ReadDetector(ctx, "e1_0")
	require.NoError(t, err)
	assert.Equal(t, 3, d.VehicleCount)
	assert.True(t, d.Occupied)
	assert.Equal(t, "e1_0", d.ID)

	_, err = e.ReadDetector(ctx, "nope")
	assert.Error(t, err)

	require.NoError(t, e.SetControlUnitState(ctx, "J1", "GGrrGGrr"))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	times, tls := sim.snapshot()
	assert.Equal(t, []float64{0.5, 1, 3}, times)
	assert.Equal(t, "GGrrGGrr", tls["J1"])
}

func TestEngineConnectTimeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	e := newEngine(t, port)
	e.cfg.ConnectTimeout = 300 * time.Millisecond
	assert.Error(t, e.Initialize(context.Background()))
}

func TestEngineKillsSimulatorWhenConnectFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	// 模拟一个启动后一直等待客户端、从不监听端口的仿真器
	bin := filepath.Join(t.TempDir(), "fake-sumo")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	e := newEngine(t, port)
	e.cfg.Binary = bin
	e.cfg.ConnectTimeout = 300 * time.Millisecond

	start := time.Now()
	assert.Error(t, e.Initialize(context.Background()))
	assert.Less(t, time.Since(start), processExitWait)
	assert.Nil(t, e.cmd)
}
