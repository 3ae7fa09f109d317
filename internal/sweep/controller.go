/*
PURPOSE:
  The sweep controller: drives cycles × combinations × repetitions
  strictly in order, one inference call in flight at a time, streaming
  every sample to the line sink as it completes and one aggregate row
  per (cycle, combination) to the tabular sink.

REQUIREMENTS:
  User-specified:
  - INIT probes the server and opens both sinks append-mode; either
    failing is fatal before any combination executes.
  - A failed run is recorded and the sweep continues; one bad run can
    never abort a multi-hour sweep.
  - Cancellation is observed between runs only (after RECORD); the
    in-flight call runs to completion or timeout.

  Implementation-discovered:
  - Resumption: at INIT the line sink is scanned into a completed set
    keyed by (cycle, combination index, repetition). Completed runs are
    skipped, their samples reloaded so aggregates for partially-complete
    combinations still cover every repetition. The tabular sink is
    scanned too: a combination whose repetitions are all recorded but
    whose aggregate row is missing (crash between the last sample write
    and the aggregate write) gets its row re-derived from the reloaded
    samples; rows already present are never duplicated.
  - Warmup fires once per combination per cycle, and only when at least
    one repetition will actually execute.
  - The pacing pause follows every executed run, including the last of
    a combination, so back-to-back combinations are paced too.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/engine, internal/stats, internal/output

ERROR HANDLING:
  - Only INIT conditions return errors. Everything after the first run
    is recovered locally; the summary reports failure counts.

IMPLEMENTATION RULES:
  - Single-threaded by design: the server is a single-consumer resource
    and concurrent calls would invalidate the measurements.
  - Strict ordering: repetition index within combination within cycle.
  - Write the sample before pacing, so the pause never risks the record.

USAGE:
  ctrl, err := sweep.NewController(cfg, combos)
  summary, err := ctrl.Run(ctx)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/runner.go
  - internal/stats/stats.go
  - internal/output/jsonl.go

MAINTENANCE:
  - Update the resume key if the schedule gains a dimension.
*/

package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcabrer/ollama-sweep/internal/config"
	"github.com/mcabrer/ollama-sweep/internal/engine"
	"github.com/mcabrer/ollama-sweep/internal/model"
	"github.com/mcabrer/ollama-sweep/internal/output"
	"github.com/mcabrer/ollama-sweep/internal/stats"
)

// Summary is the final report of one sweep invocation.
type Summary struct {
	SweepID       string
	TotalJobs     int
	ExecutedJobs  int
	SkippedJobs   int
	SuccessCount  int
	FailureCount  int
	Cancelled     bool
	Elapsed       time.Duration
	JSONLPath     string
	CSVPath       string
	TextDecode    model.Stats
	VisionDecode  model.Stats
	TextOverVision float64 // mean decode t/s ratio; 0 when either side lacks data
}

// Controller owns one sweep invocation and its sinks.
type Controller struct {
	cfg     *config.Config
	client  *engine.Client
	runner  *engine.Runner
	combos  []model.RunConfig
	sweepID string

	sampleSink *output.SampleWriter
	aggSink    *output.AggregateWriter

	completed  map[model.RunKey]model.Sample
	aggregated map[output.AggKey]bool

	decodeByMode map[model.Mode][]float64
}

// NewController builds a controller over an expanded combination set.
// sampler may be nil to disable telemetry.
func NewController(cfg *config.Config, combos []model.RunConfig, sampler engine.TelemetrySampler) *Controller {
	client := engine.NewClient(cfg)
	sweepID := uuid.NewString()
	return &Controller{
		cfg:          cfg,
		client:       client,
		runner:       engine.NewRunner(client, cfg, sampler, sweepID),
		combos:       combos,
		sweepID:      sweepID,
		decodeByMode: make(map[model.Mode][]float64),
	}
}

// Client exposes the underlying client (used by the CLI for discovery).
func (c *Controller) Client() *engine.Client {
	return c.client
}

// init probes the server, opens both sinks in append mode and scans the
// line sink for already-completed runs. Any failure here is fatal and
// happens before the first combination executes.
func (c *Controller) init(ctx context.Context) error {
	if err := c.client.WaitAvailable(ctx); err != nil {
		return fmt.Errorf("startup check failed: %w", err)
	}

	prior, err := output.ReadSamples(c.cfg.JSONLOutput)
	if err != nil {
		return fmt.Errorf("failed to scan existing results %s: %w", c.cfg.JSONLOutput, err)
	}
	c.completed = make(map[model.RunKey]model.Sample, len(prior))
	for _, s := range prior {
		c.completed[s.Key()] = s
	}
	if len(c.completed) > 0 {
		output.Logger.Info("Resuming sweep", "prior_runs", len(c.completed), "sink", c.cfg.JSONLOutput)
	}

	c.aggregated, err = output.ReadAggregateKeys(c.cfg.CSVOutput)
	if err != nil {
		return fmt.Errorf("failed to scan existing aggregates %s: %w", c.cfg.CSVOutput, err)
	}

	c.sampleSink, err = output.NewSampleWriter(c.cfg.JSONLOutput)
	if err != nil {
		return fmt.Errorf("failed to open JSONL sink %s: %w", c.cfg.JSONLOutput, err)
	}

	c.aggSink, err = output.NewAggregateWriter(c.cfg.CSVOutput)
	if err != nil {
		c.sampleSink.Close()
		return fmt.Errorf("failed to open CSV sink %s: %w", c.cfg.CSVOutput, err)
	}

	return nil
}

// Run executes the sweep to completion or cancellation. The returned
// error is non-nil only for fatal startup conditions.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	if err := c.init(ctx); err != nil {
		return nil, err
	}
	defer c.sampleSink.Close()
	defer c.aggSink.Close()

	start := time.Now()
	summary := &Summary{
		SweepID:   c.sweepID,
		TotalJobs: len(c.combos) * c.cfg.Runs * c.cfg.Cycles,
		JSONLPath: c.cfg.JSONLOutput,
		CSVPath:   c.cfg.CSVOutput,
	}

	output.Logger.Info("Starting sweep",
		"sweep_id", c.sweepID,
		"combinations", len(c.combos),
		"runs", c.cfg.Runs,
		"cycles", c.cfg.Cycles,
		"total_jobs", summary.TotalJobs,
	)

cycles:
	for cycle := 1; cycle <= c.cfg.Cycles; cycle++ {
		for _, combo := range c.combos {
			done, err := c.runCombination(ctx, cycle, combo, summary)
			if err != nil {
				// Sink write failures are the only errors surfaced here;
				// losing the sink makes all further work meaningless.
				return summary, err
			}
			if done {
				summary.Cancelled = true
				break cycles
			}
		}
	}

	summary.Elapsed = time.Since(start)
	summary.TextDecode = stats.Summarize(c.decodeByMode[model.ModeText])
	summary.VisionDecode = stats.Summarize(c.decodeByMode[model.ModeVision])
	if summary.TextDecode.Mean > 0 && summary.VisionDecode.Mean > 0 {
		summary.TextOverVision = summary.TextDecode.Mean / summary.VisionDecode.Mean
	}

	c.logSummary(summary)
	return summary, nil
}

// runCombination executes (or skips) every repetition of one combination
// within one cycle and writes its aggregate row. Returns done=true when
// cancellation was observed.
func (c *Controller) runCombination(ctx context.Context, cycle int, combo model.RunConfig, summary *Summary) (bool, error) {
	samples := make([]model.Sample, 0, c.cfg.Runs)
	pending := 0
	for rep := 1; rep <= c.cfg.Runs; rep++ {
		key := model.RunKey{Cycle: cycle, ComboIndex: combo.Index, Repetition: rep}
		if _, ok := c.completed[key]; !ok {
			pending++
		}
	}
	if c.cfg.Warmup && pending > 0 {
		c.runner.Warmup(combo)
	}

	cancelled := false
	for rep := 1; rep <= c.cfg.Runs; rep++ {
		key := model.RunKey{Cycle: cycle, ComboIndex: combo.Index, Repetition: rep}

		if prior, ok := c.completed[key]; ok {
			samples = append(samples, prior)
			summary.SkippedJobs++
			continue
		}

		if cancelled {
			// Remaining repetitions stay pending for the next invocation.
			continue
		}

		sample := c.runner.Execute(combo, cycle, rep)
		if err := c.sampleSink.Write(sample); err != nil {
			return false, fmt.Errorf("failed to write sample: %w", err)
		}

		samples = append(samples, sample)
		summary.ExecutedJobs++
		if sample.Success {
			summary.SuccessCount++
			if !sample.Degenerate {
				c.decodeByMode[combo.Mode] = append(c.decodeByMode[combo.Mode], sample.DecodeTPS)
			}
		} else {
			summary.FailureCount++
		}

		c.logRun(sample, summary)

		// Cancellation is only observed here, after the record is durable.
		select {
		case <-ctx.Done():
			output.Logger.Info("Cancellation requested, stopping after current record")
			cancelled = true
			continue
		default:
		}

		if c.cfg.Sleep > 0 {
			time.Sleep(c.cfg.Sleep)
		}
	}

	// Aggregate once every repetition is recorded and no row for this
	// (cycle, combination) exists yet; a row missed by a crashed prior
	// invocation is re-derived here from the reloaded samples. A
	// combination cut short by cancellation is left for the resuming
	// invocation to aggregate.
	aggKey := output.AggKey{Cycle: cycle, ComboIndex: combo.Index}
	if len(samples) == c.cfg.Runs && !c.aggregated[aggKey] {
		agg := stats.Aggregate(c.client.Host(), c.cfg.Model, c.sweepID, combo, cycle, samples)
		if err := c.aggSink.Write(agg); err != nil {
			return false, fmt.Errorf("failed to write aggregate: %w", err)
		}
		c.aggregated[aggKey] = true
	}

	return cancelled, nil
}

func (c *Controller) logRun(s model.Sample, summary *Summary) {
	processed := summary.ExecutedJobs + summary.SkippedJobs
	attrs := []interface{}{
		"job", fmt.Sprintf("%d/%d", processed, summary.TotalJobs),
		"cycle", s.Cycle,
		"run", s.Repetition,
		"mode", s.Config.Mode,
		"ctx", s.Config.Context,
		"np", s.Config.NumPredict,
		"temp", s.Config.Temperature,
	}
	if !s.Success {
		attrs = append(attrs, "error_kind", s.ErrorKind, "error", s.ErrorDetail)
		output.Logger.Error("Run failed", attrs...)
		return
	}
	attrs = append(attrs,
		"prefill", fmt.Sprintf("%d @ %.1f t/s", s.PrefillTokens, s.PrefillTPS),
		"decode", fmt.Sprintf("%d @ %.1f t/s", s.DecodeTokens, s.DecodeTPS),
		"wall", fmt.Sprintf("%.2fs", s.WallTimeS),
	)
	if s.Degenerate {
		attrs = append(attrs, "degenerate", true)
	}
	output.Logger.Info("Run complete", attrs...)
}

func (c *Controller) logSummary(s *Summary) {
	output.Logger.Info("Sweep finished",
		"sweep_id", s.SweepID,
		"executed", s.ExecutedJobs,
		"skipped", s.SkippedJobs,
		"success", s.SuccessCount,
		"failed", s.FailureCount,
		"cancelled", s.Cancelled,
		"elapsed", s.Elapsed.Round(time.Second),
		"jsonl", s.JSONLPath,
		"csv", s.CSVPath,
	)
	if s.TextDecode.Mean > 0 {
		output.Logger.Info("Text mode decode t/s",
			"mean", fmt.Sprintf("%.1f", s.TextDecode.Mean),
			"median", fmt.Sprintf("%.1f", s.TextDecode.Median),
			"min", fmt.Sprintf("%.1f", s.TextDecode.Min),
			"max", fmt.Sprintf("%.1f", s.TextDecode.Max),
		)
	}
	if s.VisionDecode.Mean > 0 {
		output.Logger.Info("Vision mode decode t/s",
			"mean", fmt.Sprintf("%.1f", s.VisionDecode.Mean),
			"median", fmt.Sprintf("%.1f", s.VisionDecode.Median),
			"min", fmt.Sprintf("%.1f", s.VisionDecode.Min),
			"max", fmt.Sprintf("%.1f", s.VisionDecode.Max),
		)
	}
	if s.TextOverVision > 0 {
		output.Logger.Info("Mode comparison",
			"text_vs_vision_ratio", fmt.Sprintf("%.2f", s.TextOverVision),
			"faster_mode", fasterMode(s.TextOverVision),
		)
	}
}

func fasterMode(ratio float64) model.Mode {
	if ratio > 1 {
		return model.ModeText
	}
	return model.ModeVision
}
