/*
PURPOSE:
  Defines the core data structures used throughout Ollama Sweep.
  These models represent sweep points, per-run samples and aggregates.

REQUIREMENTS:
  User-specified:
  - Record token counts, durations and derived throughput per run.
  - Track the exact parameter combination each sample belongs to.

  Implementation-discovered:
  - Need JSON tags for the JSONL sink.
  - Samples must be traceable to (cycle, combination index, repetition)
    so an interrupted sweep can be resumed from the sink.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/sweep, internal/stats, internal/output
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs). Run failures travel inside Sample, not
    as Go errors.

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - RunConfig is immutable once expanded; identity is its field tuple.
  - Durations are stored in seconds (float64) to match the sink formats.

USAGE:
  s := model.Sample{Config: rc, Cycle: 1, Repetition: 2, ...}

SELF-HEALING INSTRUCTIONS:
  - If new metrics are needed, add field and update both sinks.

RELATED FILES:
  - internal/output/csv.go
  - internal/output/jsonl.go

MAINTENANCE:
  - Update when adding new sweep parameters.
*/

package model

// Mode distinguishes text-only runs from multimodal (image) runs.
type Mode string

const (
	ModeText   Mode = "text"
	ModeVision Mode = "vision"
)

// ErrorKind classifies a failed run. Empty for successful runs.
type ErrorKind string

const (
	ErrNone        ErrorKind = ""
	ErrTimeout     ErrorKind = "timeout"
	ErrConnRefused ErrorKind = "connection-refused"
	ErrServer      ErrorKind = "server-error"
	ErrMalformed   ErrorKind = "malformed-response"
)

// RunConfig is one point in the combinatorial sweep space.
// Immutable once generated by the expander; Index is its position in the
// deterministic combination order.
type RunConfig struct {
	Index       int     `json:"combo_index"`
	Prompt      string  `json:"-"`
	PromptHash  string  `json:"prompt_hash"`
	PromptLen   int     `json:"prompt_length"`
	ImagePath   string  `json:"image_path,omitempty"`
	ImageB64    string  `json:"-"`
	Context     int     `json:"context"`
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
	Seed        *int    `json:"seed,omitempty"`
	Mode        Mode    `json:"mode"`
}

// Options returns the Ollama request options for this configuration.
func (rc RunConfig) Options() map[string]interface{} {
	opts := map[string]interface{}{
		"num_ctx":     rc.Context,
		"num_predict": rc.NumPredict,
		"temperature": rc.Temperature,
	}
	if rc.Seed != nil {
		opts["seed"] = *rc.Seed
	}
	return opts
}

// TelemetrySnapshot is a best-effort host snapshot taken around a run.
// Opaque passthrough; absence never fails a run.
type TelemetrySnapshot struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
	GPUPercent float64 `json:"gpu_percent,omitempty"`
	CPUTempC   float64 `json:"cpu_temp_c,omitempty"`
}

// Sample is the outcome of exactly one measured inference call under a
// RunConfig. Created once per run, never mutated afterwards.
type Sample struct {
	SweepID    string    `json:"sweep_id"`
	Timestamp  float64   `json:"timestamp"`
	Host       string    `json:"host"`
	Model      string    `json:"model"`
	Config     RunConfig `json:"config"`
	Cycle      int       `json:"cycle"`
	Repetition int       `json:"run"`

	Success     bool      `json:"success"`
	Degenerate  bool      `json:"degenerate,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error,omitempty"`

	WallTimeS        float64 `json:"wall_time_s"`
	TotalDurationS   float64 `json:"total_duration_s"`
	LoadDurationS    float64 `json:"load_duration_s"`
	PrefillTokens    int     `json:"prefill_tokens"`
	PrefillDurationS float64 `json:"prefill_duration_s"`
	DecodeTokens     int     `json:"decode_tokens"`
	DecodeDurationS  float64 `json:"decode_duration_s"`
	PrefillTPS       float64 `json:"prefill_tps"`
	DecodeTPS        float64 `json:"decode_tps"`

	Telemetry *TelemetrySnapshot `json:"telemetry,omitempty"`
}

// Key identifies the (cycle, combination, repetition) slot this sample
// fills. Used by the controller's resume scan.
func (s Sample) Key() RunKey {
	return RunKey{Cycle: s.Cycle, ComboIndex: s.Config.Index, Repetition: s.Repetition}
}

// RunKey is the identity of one scheduled run within a sweep.
type RunKey struct {
	Cycle      int
	ComboIndex int
	Repetition int
}

// Stats is one summarised distribution (throughput or wall time).
// All fields carry the no-data sentinel when no usable samples existed.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Stddev float64 `json:"stddev"`
}

// Aggregate summarises all samples sharing one RunConfig within one cycle.
// Written exactly once per (cycle, combination); never mutated afterwards.
type Aggregate struct {
	SweepID string    `json:"sweep_id"`
	Host    string    `json:"host"`
	Model   string    `json:"model"`
	Config  RunConfig `json:"config"`
	Cycle   int       `json:"cycle"`

	RunCount     int `json:"run_count"`
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
	// DegenerateCount runs succeeded but reported zero tokens or zero
	// duration; they count as runs but not towards throughput stats.
	DegenerateCount int `json:"degenerate_count"`

	Decode  Stats `json:"decode_tps"`
	Prefill Stats `json:"prefill_tps"`

	MeanWallTimeS     float64 `json:"mean_wall_time_s"`
	MeanPrefillTokens float64 `json:"mean_prefill_tokens"`
	MeanDecodeTokens  float64 `json:"mean_decode_tokens"`
}
