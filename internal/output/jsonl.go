/*
PURPOSE:
  Writes per-run samples to a JSON Lines file (NDJSON).
  The line sink is the sweep's durability anchor: one record per run,
  flushed immediately, appendable across invocations.

REQUIREMENTS:
  User-specified:
  - One self-describing record per run, even for failed runs.
  - A crash loses at most the in-flight run, never prior ones.

  Implementation-discovered:
  - Must open in append mode so a re-invocation resumes instead of
    truncating prior data.
  - The controller needs to scan existing records at startup to build
    the already-completed set, so the reader lives here too.

ARCHITECTURE INTEGRATION:
  - Called by: internal/sweep
  - Consumes: internal/model.Sample

ERROR HANDLING:
  - Returns error on file open or write failure.

IMPLEMENTATION RULES:
  - Use encoding/json.NewEncoder (one Write syscall per record).
  - Sync() after each record (durability over throughput).
  - Thread-safe, although the controller is the only writer.

USAGE:
  w, err := output.NewSampleWriter("results.jsonl")
  w.Write(sample)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - None specific.

RELATED FILES:
  - internal/model/types.go
  - internal/sweep/controller.go

MAINTENANCE:
  - Update ReadSamples if the Sample schema changes incompatibly.
*/

package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/mcabrer/ollama-sweep/internal/model"
)

// SampleWriter appends one JSON line per sample.
type SampleWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewSampleWriter opens (or creates) the JSONL sink in append mode.
func NewSampleWriter(path string) (*SampleWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &SampleWriter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Write appends a single sample as a JSON line and syncs the file.
func (sw *SampleWriter) Write(s model.Sample) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := sw.encoder.Encode(s); err != nil {
		return err
	}
	return sw.file.Sync()
}

// Close closes the underlying file.
func (sw *SampleWriter) Close() error {
	return sw.file.Close()
}

// ReadSamples loads every parseable sample already present in a JSONL sink.
// Used at INIT to compute the completed set for resumption. A missing file
// yields an empty slice; a truncated or garbage trailing line is skipped
// rather than failing the whole scan.
func ReadSamples(path string) ([]model.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var samples []model.Sample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s model.Sample
		if err := json.Unmarshal(line, &s); err != nil {
			Logger.Warn("Skipping unparseable record in sink", "path", path, "err", err)
			continue
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return samples, err
	}
	return samples, nil
}
