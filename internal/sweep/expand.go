/*
PURPOSE:
  Combination expander: turns comma-separated parameter lists into the
  deterministic Cartesian product of RunConfigs that drives a sweep.

REQUIREMENTS:
  User-specified:
  - Nested order is fixed, outer-to-inner: prompt, image, context,
    num_predict, temperature, seed. Re-running identical inputs must
    reproduce identical ordering and indices (resumability depends on
    this).
  - All-singleton input yields exactly one RunConfig.
  - Seeds allow an empty element meaning "server picks".

  Implementation-discovered:
  - Prompts may come from a flag, a file (one per line, '#' comments
    skipped), or defaults.
  - The prompt's identity in records is a short SHA-1 hash; full text
    never reaches the sinks.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli, internal/sweep/controller.go
  - Produces: internal/model.RunConfig

ERROR HANDLING:
  - List parsing returns explicit errors (fatal at startup).
  - Expansion itself cannot fail; vision mode with no images is
    rejected before expansion.

IMPLEMENTATION RULES:
  - Pure functions; no I/O except LoadPrompts.
  - Index assignment happens exactly once, here.

USAGE:
  combos := sweep.Expand(prompts, images, ctxs, nps, temps, seeds)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/sweep/controller.go
  - internal/imageutil/image.go

MAINTENANCE:
  - Adding a sweep dimension means extending Expand and the sinks
    together.
*/

package sweep

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mcabrer/ollama-sweep/internal/imageutil"
	"github.com/mcabrer/ollama-sweep/internal/model"
)

// ParseIntList parses a comma-separated list of integers.
func ParseIntList(value string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q in list %q", part, value)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty integer list %q", value)
	}
	return out, nil
}

// ParseFloatList parses a comma-separated list of floats.
func ParseFloatList(value string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q in list %q", part, value)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty float list %q", value)
	}
	return out, nil
}

// ParseSeedList parses a comma-separated seed list. An empty list or an
// empty element yields a nil seed, meaning the server randomises.
func ParseSeedList(value string) ([]*int, error) {
	if strings.TrimSpace(value) == "" {
		return []*int{nil}, nil
	}

	var out []*int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			out = append(out, nil)
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid seed %q in list %q", part, value)
		}
		out = append(out, &n)
	}
	if len(out) == 0 {
		out = []*int{nil}
	}
	return out, nil
}

// PromptHash returns the short identifier of a prompt used in records.
func PromptHash(prompt string) string {
	sum := sha1.Sum([]byte(prompt))
	return hex.EncodeToString(sum[:])[:8]
}

// DefaultPrompts are used when neither --prompt nor --prompt-file is given.
var DefaultPrompts = []string{
	"Describe this image in detail.",
	"What objects can you identify in this image?",
	"Analyze the colors and composition of this image.",
	"Summarize in 5 lines what a local inference server does.",
}

// LoadPrompts merges the prompt file (one per line, '#' comments and
// blanks skipped) with the single-prompt flag, falling back to defaults.
func LoadPrompts(prompt, promptFile string) ([]string, error) {
	var prompts []string

	if promptFile != "" {
		f, err := os.Open(promptFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			prompts = append(prompts, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if prompt != "" {
		prompts = append(prompts, prompt)
	}

	if len(prompts) == 0 {
		prompts = append(prompts, DefaultPrompts...)
	}

	return prompts, nil
}

// SelectImages narrows the loaded images to the requested test mode.
// Mode "text" keeps only the no-image entry, "vision" requires at least
// one real image, "both" keeps everything.
func SelectImages(images []imageutil.Image, testMode string) ([]imageutil.Image, error) {
	switch testMode {
	case "text":
		return []imageutil.Image{{}}, nil
	case "vision":
		var subset []imageutil.Image
		for _, img := range images {
			if img.Path != "" {
				subset = append(subset, img)
			}
		}
		if len(subset) == 0 {
			return nil, fmt.Errorf("vision mode requires at least one image")
		}
		return subset, nil
	case "both", "":
		return images, nil
	default:
		return nil, fmt.Errorf("unknown test mode %q (want both, text or vision)", testMode)
	}
}

// Expand produces the full Cartesian product of RunConfigs in fixed
// nested order: prompt, image, context, num_predict, temperature, seed.
// Element positions are the sweep indices.
func Expand(prompts []string, images []imageutil.Image, contexts, numPredicts []int, temperatures []float64, seeds []*int) []model.RunConfig {
	var combos []model.RunConfig
	idx := 0

	for _, prompt := range prompts {
		hash := PromptHash(prompt)
		for _, img := range images {
			mode := model.ModeText
			if img.Path != "" {
				mode = model.ModeVision
			}
			for _, ctx := range contexts {
				for _, np := range numPredicts {
					for _, temp := range temperatures {
						for _, seed := range seeds {
							combos = append(combos, model.RunConfig{
								Index:       idx,
								Prompt:      prompt,
								PromptHash:  hash,
								PromptLen:   len(prompt),
								ImagePath:   img.Path,
								ImageB64:    img.B64,
								Context:     ctx,
								NumPredict:  np,
								Temperature: temp,
								Seed:        seed,
								Mode:        mode,
							})
							idx++
						}
					}
				}
			}
		}
	}

	return combos
}
