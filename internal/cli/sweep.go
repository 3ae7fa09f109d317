/*
PURPOSE:
  Defines the 'sweep' subcommand.
  Expands the parameter lists and hands the combination set to the
  sweep controller.

REQUIREMENTS:
  User-specified:
  - Comma-separated lists for each sweep parameter.
  - Exit 0 on completion even with partial run failures; non-zero only
    on fatal start-up conditions.

  Implementation-discovered:
  - Need to load config first, then apply flag overrides.
  - SIGINT must cancel between runs, leaving the sinks valid.

ARCHITECTURE INTEGRATION:
  - Calls: internal/sweep.NewController().Run()
  - Uses: internal/config, internal/imageutil, internal/telemetry

ERROR HANDLING:
  - List parse errors, unreachable server and unopenable sinks are
    fatal; everything else is absorbed by the controller.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Expand -> Controller.Run.

USAGE:
  ollama-sweep sweep --ctx 2048,4096 --num-predict 128,256 -n 3 --warmup

SELF-HEALING INSTRUCTIONS:
  - Check flag names match Config struct fields generally.

RELATED FILES:
  - internal/cli/root.go
  - internal/sweep/controller.go

MAINTENANCE:
  - Update when adding new sweep dimensions.
*/

package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcabrer/ollama-sweep/internal/config"
	"github.com/mcabrer/ollama-sweep/internal/engine"
	"github.com/mcabrer/ollama-sweep/internal/imageutil"
	"github.com/mcabrer/ollama-sweep/internal/output"
	"github.com/mcabrer/ollama-sweep/internal/sweep"
	"github.com/mcabrer/ollama-sweep/internal/telemetry"
)

var (
	hostFlag       string
	modelFlag      string
	promptFlag     string
	promptFileFlag string
	imageFlag      string
	imageDirFlag   string
	ctxFlag        string
	numPredictFlag string
	tempFlag       string
	seedFlag       string
	runsFlag       int
	cyclesFlag     int
	testModeFlag   string
	sleepFlag      time.Duration
	warmupFlag     bool
	streamFlag     bool
	outFlag        string
	csvFlag        string
	noTelemetry    bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a parametric benchmark sweep",
	Long: `Executes a full parametric sweep against one Ollama server.
The sweep expands the Cartesian product of all parameter lists
(prompt x image x ctx x num_predict x temp x seed), runs each
combination N times per cycle, and appends results as they complete:
one JSONL record per run and one CSV row per combination.

Both output files are append-only; re-invoking the same sweep resumes
where the last invocation stopped instead of duplicating records.`,
	Example: `  # Default sweep against localhost
  ollama-sweep sweep

  # Vary context and prediction length, 3 runs each, with warmup
  ollama-sweep sweep --ctx 2048,4096 --num-predict 128,256 -n 3 --warmup

  # Vision sweep over a directory of images
  ollama-sweep sweep --test-mode vision --image-dir ./assets --temp 0,0.4,0.7

  # Text-only, multiple prompts, 3 full cycles
  ollama-sweep sweep --test-mode text --prompt-file prompts.txt --cycles 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Load Config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyOverrides(cmd, cfg)

		if cfg.Runs < 1 {
			return fmt.Errorf("runs must be at least 1 (got %d)", cfg.Runs)
		}
		if cfg.Cycles < 1 {
			return fmt.Errorf("cycles must be at least 1 (got %d)", cfg.Cycles)
		}

		// 2. Expand the combination set
		contexts, err := sweep.ParseIntList(cfg.Contexts)
		if err != nil {
			return err
		}
		numPredicts, err := sweep.ParseIntList(cfg.NumPredicts)
		if err != nil {
			return err
		}
		temperatures, err := sweep.ParseFloatList(cfg.Temperatures)
		if err != nil {
			return err
		}
		seeds, err := sweep.ParseSeedList(cfg.Seeds)
		if err != nil {
			return err
		}
		prompts, err := sweep.LoadPrompts(cfg.Prompt, cfg.PromptFile)
		if err != nil {
			return err
		}
		images, err := sweep.SelectImages(imageutil.LoadAll(cfg.Image, cfg.ImageDir), cfg.TestMode)
		if err != nil {
			return err
		}

		combos := sweep.Expand(prompts, images, contexts, numPredicts, temperatures, seeds)
		output.Logger.Info("Sweep configuration",
			"host", cfg.Host,
			"model", cfg.Model,
			"prompts", len(prompts),
			"images", len(images),
			"contexts", contexts,
			"num_predict", numPredicts,
			"temperatures", temperatures,
			"seeds", cfg.Seeds,
			"test_mode", cfg.TestMode,
			"combinations", len(combos),
		)

		// 3. Execute; SIGINT/SIGTERM cancel between runs.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var sampler engine.TelemetrySampler
		if cfg.Telemetry {
			sampler = telemetry.NewSampler()
		}

		ctrl := sweep.NewController(cfg, combos, sampler)
		_, err = ctrl.Run(ctx)
		return err
	},
}

// applyOverrides copies every flag the user set onto the loaded config.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("host") {
		cfg.Host = hostFlag
	}
	if set("model") {
		cfg.Model = modelFlag
	}
	if set("prompt") {
		cfg.Prompt = promptFlag
	}
	if set("prompt-file") {
		cfg.PromptFile = promptFileFlag
	}
	if set("image") {
		cfg.Image = imageFlag
	}
	if set("image-dir") {
		cfg.ImageDir = imageDirFlag
	}
	if set("ctx") {
		cfg.Contexts = ctxFlag
	}
	if set("num-predict") {
		cfg.NumPredicts = numPredictFlag
	}
	if set("temp") {
		cfg.Temperatures = tempFlag
	}
	if set("seed") {
		cfg.Seeds = seedFlag
	}
	if set("runs") {
		cfg.Runs = runsFlag
	}
	if set("cycles") {
		cfg.Cycles = cyclesFlag
	}
	if set("test-mode") {
		cfg.TestMode = testModeFlag
	}
	if set("sleep") {
		cfg.Sleep = sleepFlag
	}
	if set("warmup") {
		cfg.Warmup = warmupFlag
	}
	if set("stream") {
		cfg.Stream = streamFlag
	}
	if set("out") {
		cfg.JSONLOutput = outFlag
	}
	if set("csv") {
		cfg.CSVOutput = csvFlag
	}
	if set("no-telemetry") {
		cfg.Telemetry = !noTelemetry
	}
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVar(&hostFlag, "host", "http://localhost:11434", "Ollama server URL")
	sweepCmd.Flags().StringVar(&modelFlag, "model", "llama3.2-vision:11b", "Model to benchmark")
	sweepCmd.Flags().StringVar(&promptFlag, "prompt", "", "Single prompt to sweep with")
	sweepCmd.Flags().StringVarP(&promptFileFlag, "prompt-file", "p", "", "File with prompts, one per line ('#' comments skipped)")
	sweepCmd.Flags().StringVar(&imageFlag, "image", "", "Single image for vision runs")
	sweepCmd.Flags().StringVar(&imageDirFlag, "image-dir", "", "Directory of images for vision runs")
	sweepCmd.Flags().StringVar(&ctxFlag, "ctx", "4096", "Comma-separated context sizes")
	sweepCmd.Flags().StringVar(&numPredictFlag, "num-predict", "128,256", "Comma-separated prediction lengths")
	sweepCmd.Flags().StringVar(&tempFlag, "temp", "0,0.4", "Comma-separated temperatures")
	sweepCmd.Flags().StringVar(&seedFlag, "seed", "42", "Comma-separated seeds (empty element for random)")
	sweepCmd.Flags().IntVarP(&runsFlag, "runs", "n", 3, "Repetitions per combination")
	sweepCmd.Flags().IntVar(&cyclesFlag, "cycles", 1, "Full cycles of the whole sweep")
	sweepCmd.Flags().StringVar(&testModeFlag, "test-mode", "both", "Test mode: both, text or vision")
	sweepCmd.Flags().DurationVar(&sleepFlag, "sleep", 1*time.Second, "Pause between runs")
	sweepCmd.Flags().BoolVar(&warmupFlag, "warmup", false, "Run a discardable warmup call per combination")
	sweepCmd.Flags().BoolVar(&streamFlag, "stream", false, "Use streaming delivery for measured calls")
	sweepCmd.Flags().StringVar(&outFlag, "out", "sweep_results.jsonl", "JSONL file for per-run records")
	sweepCmd.Flags().StringVar(&csvFlag, "csv", "sweep_results.csv", "CSV file for per-combination aggregates")
	sweepCmd.Flags().BoolVar(&noTelemetry, "no-telemetry", false, "Disable host telemetry snapshots")
}
