package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcabrer/ollama-sweep/internal/config"
	"github.com/mcabrer/ollama-sweep/internal/model"
)

func testConfig(host string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Host = host
	cfg.Model = "test-model"
	cfg.LoadTimeout = 2 * time.Second
	cfg.CallTimeout = 2 * time.Second
	cfg.ProbeTries = 1
	cfg.ProbeDelay = 10 * time.Millisecond
	cfg.Telemetry = false
	return cfg
}

func generateResponse(evalCount int, evalDurationNS int64) map[string]interface{} {
	return map[string]interface{}{
		"response":             "ok",
		"done":                 true,
		"total_duration":       int64(4000000000),
		"load_duration":        int64(500000000),
		"prompt_eval_count":    26,
		"prompt_eval_duration": int64(250000000),
		"eval_count":           evalCount,
		"eval_duration":        evalDurationNS,
	}
}

func newFakeOllama(t *testing.T, generate http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"version": "0.5.0"})
	})
	mux.HandleFunc("/api/generate", generate)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestExecuteSuccess(t *testing.T) {
	var gotReq map[string]interface{}
	srv := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(generateResponse(128, 3200000000))
	})

	cfg := testConfig(srv.URL)
	seed := 42
	rc := model.RunConfig{
		Index: 5, Prompt: "hello", Context: 4096, NumPredict: 128,
		Temperature: 0.4, Seed: &seed, Mode: model.ModeText,
	}

	r := NewRunner(NewClient(cfg), cfg, nil, "sweep-1")
	sample := r.Execute(rc, 1, 2)

	require.True(t, sample.Success)
	assert.Empty(t, sample.ErrorKind)
	assert.False(t, sample.Degenerate)
	assert.Equal(t, 1, sample.Cycle)
	assert.Equal(t, 2, sample.Repetition)
	assert.Equal(t, 5, sample.Config.Index)
	assert.Equal(t, 128, sample.DecodeTokens)
	assert.InDelta(t, 40.0, sample.DecodeTPS, 1e-6) // 128 tokens / 3.2s
	assert.InDelta(t, 104.0, sample.PrefillTPS, 1e-6)
	assert.Greater(t, sample.WallTimeS, 0.0)

	// The request carried the combination's options.
	opts := gotReq["options"].(map[string]interface{})
	assert.EqualValues(t, 4096, opts["num_ctx"])
	assert.EqualValues(t, 128, opts["num_predict"])
	assert.EqualValues(t, 0.4, opts["temperature"])
	assert.EqualValues(t, 42, opts["seed"])
	assert.Equal(t, false, gotReq["stream"])
}

func TestExecuteStreamed(t *testing.T) {
	srv := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for i := 0; i < 3; i++ {
			enc.Encode(map[string]interface{}{"response": "x", "done": false})
		}
		enc.Encode(generateResponse(64, 1600000000))
	})

	cfg := testConfig(srv.URL)
	cfg.Stream = true
	r := NewRunner(NewClient(cfg), cfg, nil, "sweep-1")

	sample := r.Execute(model.RunConfig{Prompt: "p"}, 1, 1)

	require.True(t, sample.Success)
	assert.Equal(t, 64, sample.DecodeTokens)
	assert.InDelta(t, 40.0, sample.DecodeTPS, 1e-6)
}

func TestExecuteServerError(t *testing.T) {
	srv := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	})

	cfg := testConfig(srv.URL)
	r := NewRunner(NewClient(cfg), cfg, nil, "sweep-1")

	sample := r.Execute(model.RunConfig{Prompt: "p"}, 1, 1)

	require.False(t, sample.Success)
	assert.Equal(t, model.ErrServer, sample.ErrorKind)
	assert.Contains(t, sample.ErrorDetail, "500")
}

func TestExecuteMalformedResponse(t *testing.T) {
	srv := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not json"))
	})

	cfg := testConfig(srv.URL)
	r := NewRunner(NewClient(cfg), cfg, nil, "sweep-1")

	sample := r.Execute(model.RunConfig{Prompt: "p"}, 1, 1)

	require.False(t, sample.Success)
	assert.Equal(t, model.ErrMalformed, sample.ErrorKind)
}

func TestExecuteConnectionRefused(t *testing.T) {
	srv := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {})
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	r := NewRunner(NewClient(cfg), cfg, nil, "sweep-1")

	sample := r.Execute(model.RunConfig{Prompt: "p"}, 1, 1)

	require.False(t, sample.Success)
	assert.Equal(t, model.ErrConnRefused, sample.ErrorKind)
}

func TestExecuteTimeout(t *testing.T) {
	srv := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		json.NewEncoder(w).Encode(generateResponse(1, 1))
	})

	cfg := testConfig(srv.URL)
	cfg.LoadTimeout = 50 * time.Millisecond
	cfg.CallTimeout = 50 * time.Millisecond
	r := NewRunner(NewClient(cfg), cfg, nil, "sweep-1")

	sample := r.Execute(model.RunConfig{Prompt: "p"}, 1, 1)

	require.False(t, sample.Success)
	assert.Equal(t, model.ErrTimeout, sample.ErrorKind)
}

// A call that reports zero decode tokens is still a success, but flagged
// degenerate with throughput pinned to zero instead of NaN/Inf.
func TestExecuteDegenerateMeasurement(t *testing.T) {
	srv := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse(0, 0))
	})

	cfg := testConfig(srv.URL)
	r := NewRunner(NewClient(cfg), cfg, nil, "sweep-1")

	sample := r.Execute(model.RunConfig{Prompt: "p"}, 1, 1)

	require.True(t, sample.Success)
	assert.True(t, sample.Degenerate)
	assert.Equal(t, 0.0, sample.DecodeTPS)
}

func TestWaitAvailableFatalWhenUnreachable(t *testing.T) {
	srv := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {})
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	cfg.ProbeTries = 2
	cfg.ProbeDelay = 5 * time.Millisecond

	err := NewClient(cfg).WaitAvailable(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestListModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{{"name": "llama3.2:1b"}, {"name": "qwen2.5:7b"}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(testConfig(srv.URL))
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2:1b", "qwen2.5:7b"}, models)
}
