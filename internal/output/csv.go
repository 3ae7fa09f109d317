/*
PURPOSE:
  Writes per-combination aggregate rows to a CSV file.
  Ensures data integrity by flushing writes immediately.

REQUIREMENTS:
  User-specified:
  - One row per (cycle, combination) with the full statistic set.
  - Keep file handle open for flushing (per original Python script).

  Implementation-discovered:
  - Must open in append mode so resumed sweeps extend prior data.
  - The fixed header is written only when the file is new and is never
    rewritten on resumption.
  - Resumption needs to know which (cycle, combination) rows already
    exist, so a crash between the last sample write and the aggregate
    write can be healed by re-deriving the missing row.

ARCHITECTURE INTEGRATION:
  - Called by: internal/sweep
  - Consumes: internal/model.Aggregate

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write (critical for crash resilience).
  - Use Mutex; the controller is single-threaded but the sink should not
    depend on that.

USAGE:
  w, err := output.NewAggregateWriter("results.csv")
  w.Write(agg)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - If CSV format changes, update header and record conversion together.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update Write() mapping when Aggregate struct changes.
*/

package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/mcabrer/ollama-sweep/internal/model"
)

// AggregateHeader is the fixed column set of the tabular sink.
var AggregateHeader = []string{
	"host", "model", "mode", "prompt_hash", "prompt_length", "image_path",
	"context", "num_predict", "temperature", "seed",
	"cycle", "combo_index",
	"run_count", "success_count", "failure_count", "degenerate_count",
	"decode_tps_mean", "decode_tps_median", "decode_tps_p90",
	"decode_tps_min", "decode_tps_max", "decode_tps_stddev",
	"prefill_tps_mean", "prefill_tps_median", "prefill_tps_p90",
	"prefill_tps_min", "prefill_tps_max", "prefill_tps_stddev",
	"mean_wall_time_s", "mean_prefill_tokens", "mean_decode_tokens",
}

// AggregateWriter handles writing aggregate rows to a CSV file.
type AggregateWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewAggregateWriter opens (or creates) the CSV sink in append mode.
// The header row is written only when the file did not exist or was empty.
func NewAggregateWriter(path string) (*AggregateWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := w.Write(AggregateHeader); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, err
		}
	}

	return &AggregateWriter{
		file:   f,
		writer: w,
	}, nil
}

// Write writes a single aggregate row. It is thread-safe.
func (aw *AggregateWriter) Write(a model.Aggregate) error {
	aw.mu.Lock()
	defer aw.mu.Unlock()

	seed := ""
	if a.Config.Seed != nil {
		seed = strconv.Itoa(*a.Config.Seed)
	}

	record := []string{
		a.Host,
		a.Model,
		string(a.Config.Mode),
		a.Config.PromptHash,
		strconv.Itoa(a.Config.PromptLen),
		a.Config.ImagePath,
		strconv.Itoa(a.Config.Context),
		strconv.Itoa(a.Config.NumPredict),
		fmt.Sprintf("%g", a.Config.Temperature),
		seed,
		strconv.Itoa(a.Cycle),
		strconv.Itoa(a.Config.Index),
		strconv.Itoa(a.RunCount),
		strconv.Itoa(a.SuccessCount),
		strconv.Itoa(a.FailureCount),
		strconv.Itoa(a.DegenerateCount),
		stat(a.Decode.Mean), stat(a.Decode.Median), stat(a.Decode.P90),
		stat(a.Decode.Min), stat(a.Decode.Max), stat(a.Decode.Stddev),
		stat(a.Prefill.Mean), stat(a.Prefill.Median), stat(a.Prefill.P90),
		stat(a.Prefill.Min), stat(a.Prefill.Max), stat(a.Prefill.Stddev),
		fmt.Sprintf("%.3f", a.MeanWallTimeS),
		fmt.Sprintf("%.1f", a.MeanPrefillTokens),
		fmt.Sprintf("%.1f", a.MeanDecodeTokens),
	}

	if err := aw.writer.Write(record); err != nil {
		return err
	}
	aw.writer.Flush()
	return aw.writer.Error()
}

// stat formats one statistic, preserving the integral no-data sentinel.
func stat(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return fmt.Sprintf("%.2f", v)
}

// Close closes the underlying file.
func (aw *AggregateWriter) Close() error {
	aw.writer.Flush()
	return aw.file.Close()
}

// AggKey identifies one aggregate row in the tabular sink.
type AggKey struct {
	Cycle      int
	ComboIndex int
}

// ReadAggregateKeys scans an existing CSV sink and returns the set of
// (cycle, combination) rows it already holds. A missing file yields an
// empty set. Rows whose key columns do not parse are skipped.
func ReadAggregateKeys(path string) (map[AggKey]bool, error) {
	keys := make(map[AggKey]bool)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return keys, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return keys, nil
	}

	cycleCol, comboCol := -1, -1
	for i, name := range rows[0] {
		switch name {
		case "cycle":
			cycleCol = i
		case "combo_index":
			comboCol = i
		}
	}
	if cycleCol < 0 || comboCol < 0 {
		return keys, nil
	}

	for _, row := range rows[1:] {
		if len(row) <= cycleCol || len(row) <= comboCol {
			continue
		}
		cycle, err := strconv.Atoi(row[cycleCol])
		if err != nil {
			continue
		}
		combo, err := strconv.Atoi(row[comboCol])
		if err != nil {
			continue
		}
		keys[AggKey{Cycle: cycle, ComboIndex: combo}] = true
	}
	return keys, nil
}
