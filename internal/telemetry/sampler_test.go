package telemetry

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/propulsion-simulator/core"
	"github.com/signalsfoundry/propulsion-simulator/kb"
)

type mapSource struct {
	values map[string]float64
	fail   map[string]bool
}

func (m *mapSource) Sample(v kb.Variable) (float64, error) {
	key := v.String()
	if m.fail[key] {
		return 0, errors.New("unavailable")
	}
	val, ok := m.values[key]
	if !ok {
		return 0, kb.ErrFieldNotFound
	}
	return val, nil
}

type gaugeRecorder map[string]float64

func (g gaugeRecorder) SetComponentValue(component, variable string, v float64) {
	g[component+"/"+variable] = v
}

func vars(t *testing.T, names ...string) []kb.Variable {
	t.Helper()
	out := make([]kb.Variable, 0, len(names))
	for _, n := range names {
		v, err := kb.ParseVariable(n)
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func readTable(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	records, err := csv.NewReader(r).ReadAll()
	require.NoError(t, err)
	return records
}

func TestSamplerHonoursInterval(t *testing.T) {
	src := &mapSource{values: map[string]float64{"tank.Pressure": 2e6}}
	var buf bytes.Buffer
	s, err := NewSampler(&buf, src, Config{Interval: 250 * time.Millisecond, Variables: vars(t, "tank.Pressure")})
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		s.Observe(core.StepReport{Cycle: i - 1, MissionTime: time.Duration(i) * 100 * time.Millisecond})
	}
	require.NoError(t, s.Close())

	records := readTable(t, &buf)
	require.Len(t, records, 6)
	assert.Equal(t, []string{TimeColumn, "tank.Pressure"}, records[0])
	var times []string
	for _, r := range records[1:] {
		times = append(times, r[0])
		assert.Equal(t, "2e+06", r[1])
	}
	assert.Equal(t, []string{"0.1", "0.3", "0.5", "0.8", "1"}, times)
	assert.Equal(t, 5, s.Rows())
}

func TestSamplerEveryCycleWithoutInterval(t *testing.T) {
	src := &mapSource{values: map[string]float64{"a.X": 1}}
	var buf bytes.Buffer
	s, err := NewSampler(&buf, src, Config{Variables: vars(t, "a.X")})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		s.Observe(core.StepReport{MissionTime: time.Duration(i) * time.Second})
	}
	assert.Equal(t, 4, s.Rows())
}

func TestSamplerRejectsUnknownVariables(t *testing.T) {
	src := &mapSource{values: map[string]float64{"a.X": 1}}
	_, err := NewSampler(io.Discard, src, Config{Variables: vars(t, "a.X", "b.Y", "c.Z[2]")})
	require.Error(t, err)
	assert.ErrorIs(t, err, kb.ErrFieldNotFound)
	assert.Contains(t, err.Error(), "b.Y")
	assert.Contains(t, err.Error(), "c.Z[2]")

	_, err = NewSampler(io.Discard, src, Config{})
	assert.ErrorIs(t, err, ErrNoVariables)

	_, err = NewSampler(io.Discard, src, Config{Variables: vars(t, "a.X"), Compression: "lz4"})
	assert.Error(t, err)
}

func TestSamplerLeavesFailedCellsBlank(t *testing.T) {
	src := &mapSource{values: map[string]float64{"a.X": 1, "b.Y": 2}, fail: map[string]bool{}}
	var buf bytes.Buffer
	s, err := NewSampler(&buf, src, Config{Variables: vars(t, "a.X", "b.Y")})
	require.NoError(t, err)

	src.fail["b.Y"] = true
	err = s.Sample(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.Y")
	require.NoError(t, s.Close())

	records := readTable(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"1", "1", ""}, records[1])
}

func TestSamplerMirrorsGauges(t *testing.T) {
	src := &mapSource{values: map[string]float64{"line.WallTemperature[1]": 301.5, "tank.Pressure": 1.8e6}}
	gauges := gaugeRecorder{}
	s, err := NewSampler(io.Discard, src, Config{Variables: vars(t, "line.WallTemperature[1]", "tank.Pressure")}, WithGauges(gauges))
	require.NoError(t, err)
	require.NoError(t, s.Sample(0))

	assert.Equal(t, 301.5, gauges["line/WallTemperature[1]"])
	assert.Equal(t, 1.8e6, gauges["tank/Pressure"])
}

func TestSamplerCompressedRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionGzip, CompressionZstd} {
		t.Run(string(c), func(t *testing.T) {
			src := &mapSource{values: map[string]float64{"a.X": 0.5}}
			var buf bytes.Buffer
			s, err := NewSampler(&buf, src, Config{Variables: vars(t, "a.X"), Compression: c})
			require.NoError(t, err)
			require.NoError(t, s.Sample(time.Second))
			require.NoError(t, s.Sample(2*time.Second))
			require.NoError(t, s.Close())

			assert.False(t, strings.HasPrefix(buf.String(), TimeColumn), "output is not compressed")
			r, err := Decompress(&buf, c)
			require.NoError(t, err)
			defer r.Close()
			records := readTable(t, r)
			assert.Equal(t, [][]string{{TimeColumn, "a.X"}, {"1", "0.5"}, {"2", "0.5"}}, records)
		})
	}
}

type tankState struct {
	Pressure float64
	Temps    []float64
}

func (t *tankState) Name() string { return "tank" }

func TestSamplerReadsRegistry(t *testing.T) {
	reg := kb.NewRegistry(nil)
	tank := &tankState{Pressure: 3e5, Temps: []float64{290, 295}}
	require.NoError(t, reg.Register(tank))

	var buf bytes.Buffer
	s, err := NewSampler(&buf, reg, Config{Variables: vars(t, "tank.Pressure", "tank.Temps[1]")})
	require.NoError(t, err)
	require.NoError(t, s.Sample(0))
	tank.Pressure = 2.5e5
	require.NoError(t, s.Sample(time.Second))
	require.NoError(t, s.Close())

	records := readTable(t, &buf)
	assert.Equal(t, [][]string{
		{TimeColumn, "tank.Pressure", "tank.Temps[1]"},
		{"0", "300000", "295"},
		{"1", "250000", "295"},
	}, records)
}

func TestConfigFromScenario(t *testing.T) {
	s := &core.Scenario{Sampling: core.SamplingSettings{
		Interval:    "200ms",
		Compression: "zstd",
		Variables:   []string{"tank.Pressure", "line.WallTemperature[0]"},
	}}
	cfg, err := ConfigFromScenario(s)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, cfg.Interval)
	assert.Equal(t, CompressionZstd, cfg.Compression)
	require.Len(t, cfg.Variables, 2)
	assert.Equal(t, 0, cfg.Variables[1].Index)

	s.Sampling.Variables = []string{"nodot"}
	_, err = ConfigFromScenario(s)
	assert.Error(t, err)
}
