package output

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcabrer/ollama-sweep/internal/model"
)

func testSample(cycle, combo, rep int) model.Sample {
	return model.Sample{
		SweepID:    "test-sweep",
		Host:       "http://localhost:11434",
		Model:      "test-model",
		Config:     model.RunConfig{Index: combo, Context: 4096, NumPredict: 128, Mode: model.ModeText, PromptHash: "abcd1234"},
		Cycle:      cycle,
		Repetition: rep,
		Success:    true,
		DecodeTPS:  44.8,
		PrefillTPS: 120.5,
		WallTimeS:  2.1,
	}
}

func TestSampleWriterAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")

	w, err := NewSampleWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(testSample(1, 0, 1)))
	require.NoError(t, w.Write(testSample(1, 0, 2)))
	require.NoError(t, w.Close())

	// Re-opening must append, never truncate.
	w, err = NewSampleWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(testSample(1, 0, 3)))
	require.NoError(t, w.Close())

	samples, err := ReadSamples(path)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, 1, samples[0].Repetition)
	assert.Equal(t, 3, samples[2].Repetition)
	assert.Equal(t, model.RunKey{Cycle: 1, ComboIndex: 0, Repetition: 2}, samples[1].Key())
}

func TestReadSamplesMissingFile(t *testing.T) {
	samples, err := ReadSamples(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestReadSamplesSkipsGarbageLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")

	w, err := NewSampleWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(testSample(1, 0, 1)))
	require.NoError(t, w.Close())

	// Simulate a crash mid-write: a truncated trailing record.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"sweep_id":"trunc`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	samples, err := ReadSamples(path)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func testAggregate(cycle, combo int) model.Aggregate {
	return model.Aggregate{
		SweepID: "test-sweep",
		Host:    "http://localhost:11434",
		Model:   "test-model",
		Config:  model.RunConfig{Index: combo, Context: 4096, NumPredict: 128, Temperature: 0.4, Mode: model.ModeText, PromptHash: "abcd1234", PromptLen: 10},
		Cycle:   cycle,

		RunCount:     3,
		SuccessCount: 3,
		Decode:       model.Stats{Mean: 44.78, Median: 44.8, P90: 44.96, Min: 44.4, Max: 45, Stddev: 0.2},
		Prefill:      model.Stats{Mean: 120, Median: 120, P90: 121, Min: 118, Max: 122, Stddev: 1.3},

		MeanWallTimeS:     2.345,
		MeanPrefillTokens: 20,
		MeanDecodeTokens:  128,
	}
}

func TestAggregateWriterHeaderOnceAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agg.csv")

	w, err := NewAggregateWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(testAggregate(1, 0)))
	require.NoError(t, w.Close())

	// Resumption: header must not be rewritten.
	w, err = NewAggregateWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(testAggregate(1, 1)))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, AggregateHeader, rows[0])
	for _, row := range rows[1:] {
		assert.Len(t, row, len(AggregateHeader))
	}
	assert.Equal(t, "0", rows[1][11]) // combo_index
	assert.Equal(t, "1", rows[2][11])
}

func TestAggregateWriterFormatsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agg.csv")

	w, err := NewAggregateWriter(path)
	require.NoError(t, err)
	agg := testAggregate(1, 0)
	seed := 42
	agg.Config.Seed = &seed
	require.NoError(t, w.Write(agg))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	row := strings.Split(lines[1], ",")
	header := AggregateHeader
	idx := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %s", name)
		return -1
	}

	assert.Equal(t, "42", row[idx("seed")])
	assert.Equal(t, "44.78", row[idx("decode_tps_mean")])
	assert.Equal(t, "45", row[idx("decode_tps_max")])
	assert.Equal(t, "2.345", row[idx("mean_wall_time_s")])
	assert.Equal(t, "text", row[idx("mode")])
}

func TestAggregateWriterNilSeedEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agg.csv")

	w, err := NewAggregateWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(testAggregate(1, 0)))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "", rows[1][9]) // seed column
}
