/*
PURPOSE:
  The run executor: performs exactly one timed inference call for a
  given RunConfig and repetition, optionally preceded by a discardable
  warmup call, and produces exactly one Sample.

REQUIREMENTS:
  User-specified:
  - A failed call still yields a Sample (success=false) with a
    classified error; failures never propagate past the executor.
  - The in-flight call runs to completion or timeout: it is insulated
    from operator cancellation, which the controller observes only
    after the record is durable. An interrupted sweep must never turn
    a call the server finished into a recorded failure.
  - Warmup results are never recorded.
  - throughput = tokens / seconds; zero tokens or zero duration yields
    throughput 0 (never Inf/NaN) and flags the sample degenerate.

  Implementation-discovered:
  - No retries here: retry policy belongs to the sweep controller,
    which owns pacing.
  - Telemetry is sampled best-effort after the call; its absence never
    fails a run.

ARCHITECTURE INTEGRATION:
  - Called by: internal/sweep/controller.go
  - Uses: internal/engine/client.go, internal/engine/parse.go,
    internal/telemetry

ERROR HANDLING:
  - classify() maps transport/parse errors onto the fixed taxonomy:
    timeout, connection-refused, server-error, malformed-response.

IMPLEMENTATION RULES:
  - One Sample per invocation, always.
  - Wall time is measured client-side around the whole call.
  - Server-reported durations arrive via parse.go already in seconds.

USAGE:
  r := engine.NewRunner(client, cfg, sampler, sweepID)
  sample := r.Execute(rc, cycle, rep)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/client.go
  - internal/sweep/controller.go

MAINTENANCE:
  - Extend classify() if new failure modes show up in sweeps.
*/

package engine

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/mcabrer/ollama-sweep/internal/config"
	"github.com/mcabrer/ollama-sweep/internal/model"
	"github.com/mcabrer/ollama-sweep/internal/output"
)

// TelemetrySampler is the pluggable side-channel metric source. A nil
// sampler disables telemetry entirely.
type TelemetrySampler interface {
	Snapshot(ctx context.Context) (*model.TelemetrySnapshot, error)
}

// Runner executes single timed inference calls.
type Runner struct {
	client  *Client
	cfg     *config.Config
	sampler TelemetrySampler
	sweepID string
}

// NewRunner creates a run executor bound to one client. sampler may be nil.
func NewRunner(client *Client, cfg *config.Config, sampler TelemetrySampler, sweepID string) *Runner {
	return &Runner{client: client, cfg: cfg, sampler: sampler, sweepID: sweepID}
}

// Warmup performs one discardable call with the same configuration to
// prime server-side caches. Failures are logged and ignored; a warmup is
// never recorded as a sample.
func (r *Runner) Warmup(rc model.RunConfig) {
	callCtx, cancel := context.WithTimeout(context.Background(), r.cfg.LoadTimeout+r.cfg.CallTimeout)
	defer cancel()

	var images []string
	if rc.ImageB64 != "" {
		images = []string{rc.ImageB64}
	}

	payload, err := r.client.Generate(callCtx, GenerateRequest{
		Model:   r.cfg.Model,
		Prompt:  "Warmup.",
		Images:  images,
		Options: rc.Options(),
		Stream:  false,
	})
	if err != nil {
		output.Logger.Warn("Warmup failed", "combo", rc.Index, "err", err)
		return
	}
	if _, err := payload.Counters(); err != nil {
		output.Logger.Warn("Warmup response unusable", "combo", rc.Index, "err", err)
	}
}

// Execute performs exactly one measured inference call and returns its
// Sample. It never returns an error: failures are carried in the sample.
// The call context is rooted in Background deliberately: only the
// configured timeout can end a call early, never an operator stop signal.
func (r *Runner) Execute(rc model.RunConfig, cycle, repetition int) model.Sample {
	sample := model.Sample{
		SweepID:    r.sweepID,
		Host:       r.client.Host(),
		Model:      r.cfg.Model,
		Config:     rc,
		Cycle:      cycle,
		Repetition: repetition,
	}

	callCtx, cancel := context.WithTimeout(context.Background(), r.cfg.LoadTimeout+r.cfg.CallTimeout)
	defer cancel()

	var images []string
	if rc.ImageB64 != "" {
		images = []string{rc.ImageB64}
	}

	start := time.Now()
	sample.Timestamp = float64(start.UnixNano()) / 1e9

	payload, err := r.client.Generate(callCtx, GenerateRequest{
		Model:   r.cfg.Model,
		Prompt:  rc.Prompt,
		Images:  images,
		Options: rc.Options(),
		Stream:  r.cfg.Stream,
	})
	if err != nil {
		sample.WallTimeS = time.Since(start).Seconds()
		sample.ErrorKind, sample.ErrorDetail = classify(err)
		r.attachTelemetry(&sample)
		return sample
	}

	counters, err := payload.Counters()
	sample.WallTimeS = time.Since(start).Seconds()
	if err != nil {
		sample.ErrorKind, sample.ErrorDetail = classify(err)
		r.attachTelemetry(&sample)
		return sample
	}

	sample.Success = true
	sample.TotalDurationS = counters.TotalDurationS
	sample.LoadDurationS = counters.LoadDurationS
	sample.PrefillTokens = counters.PrefillTokens
	sample.PrefillDurationS = counters.PrefillDurationS
	sample.DecodeTokens = counters.DecodeTokens
	sample.DecodeDurationS = counters.DecodeDurationS
	sample.PrefillTPS = throughput(counters.PrefillTokens, counters.PrefillDurationS)
	sample.DecodeTPS = throughput(counters.DecodeTokens, counters.DecodeDurationS)

	// Zero tokens or zero duration: recorded as success, flagged so the
	// aggregator keeps it out of the throughput distributions.
	if counters.DecodeTokens == 0 || counters.DecodeDurationS == 0 ||
		counters.PrefillTokens == 0 || counters.PrefillDurationS == 0 {
		sample.Degenerate = true
	}

	r.attachTelemetry(&sample)
	return sample
}

func (r *Runner) attachTelemetry(sample *model.Sample) {
	if r.sampler == nil {
		return
	}
	// Own deadline: the call context may already be expired on failures.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := r.sampler.Snapshot(ctx)
	if err != nil {
		output.Logger.Debug("Telemetry snapshot unavailable", "err", err)
		return
	}
	sample.Telemetry = snap
}

// throughput is tokens per second, defined as 0 for degenerate inputs.
func throughput(tokens int, seconds float64) float64 {
	if tokens <= 0 || seconds <= 0 {
		return 0
	}
	return float64(tokens) / seconds
}

// classify maps an error onto the fixed failure taxonomy.
func classify(err error) (model.ErrorKind, string) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return model.ErrServer, apiErr.Error()
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return model.ErrMalformed, parseErr.Error()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrTimeout, err.Error()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrTimeout, err.Error()
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return model.ErrConnRefused, err.Error()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return model.ErrConnRefused, err.Error()
	}

	return model.ErrServer, err.Error()
}
