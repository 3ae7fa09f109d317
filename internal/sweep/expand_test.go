package sweep

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcabrer/ollama-sweep/internal/imageutil"
	"github.com/mcabrer/ollama-sweep/internal/model"
)

func TestParseIntList(t *testing.T) {
	got, err := ParseIntList("2048, 4096,8192")
	require.NoError(t, err)
	assert.Equal(t, []int{2048, 4096, 8192}, got)

	_, err = ParseIntList("2048,abc")
	assert.Error(t, err)

	_, err = ParseIntList("")
	assert.Error(t, err)
}

func TestParseFloatList(t *testing.T) {
	got, err := ParseFloatList("0,0.4, 0.7")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.4, 0.7}, got)

	_, err = ParseFloatList("0.x")
	assert.Error(t, err)
}

func TestParseSeedList(t *testing.T) {
	got, err := ParseSeedList("42,,7")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.NotNil(t, got[0])
	assert.Equal(t, 42, *got[0])
	assert.Nil(t, got[1])
	require.NotNil(t, got[2])
	assert.Equal(t, 7, *got[2])

	// Empty list means "server randomises".
	got, err = ParseSeedList("")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0])
}

func TestPromptHashStable(t *testing.T) {
	h1 := PromptHash("Describe this image in detail.")
	h2 := PromptHash("Describe this image in detail.")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 8)
	assert.NotEqual(t, h1, PromptHash("something else"))
}

func TestLoadPromptsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.txt")
	content := "# comment line\nfirst prompt\n\nsecond prompt\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	prompts, err := LoadPrompts("flag prompt", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"first prompt", "second prompt", "flag prompt"}, prompts)
}

func TestLoadPromptsDefaults(t *testing.T) {
	prompts, err := LoadPrompts("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompts, prompts)
}

func TestExpandProductSizeAndOrder(t *testing.T) {
	seed := 42
	prompts := []string{"a", "b"}
	images := []imageutil.Image{{}}
	contexts := []int{2048, 4096}
	nps := []int{128, 256, 512}
	temps := []float64{0, 0.4}
	seeds := []*int{&seed}

	combos := Expand(prompts, images, contexts, nps, temps, seeds)

	require.Len(t, combos, 2*1*2*3*2*1)

	// Indices are positional and contiguous.
	for i, rc := range combos {
		assert.Equal(t, i, rc.Index)
	}

	// Outer-to-inner nesting: seed varies fastest, prompt slowest.
	assert.Equal(t, 2048, combos[0].Context)
	assert.Equal(t, 128, combos[0].NumPredict)
	assert.Equal(t, 0.0, combos[0].Temperature)
	assert.Equal(t, 0.4, combos[1].Temperature) // temp is inner of num_predict
	assert.Equal(t, 256, combos[2].NumPredict)
	assert.Equal(t, "a", combos[11].Prompt)
	assert.Equal(t, 4096, combos[6].Context)
	assert.Equal(t, "b", combos[12].Prompt)

	// Each element unique by its field tuple.
	seen := make(map[string]bool)
	for _, rc := range combos {
		key := fmt.Sprintf("%s|%s|%d|%d|%g", rc.Prompt, rc.ImagePath, rc.Context, rc.NumPredict, rc.Temperature)
		assert.False(t, seen[key], "duplicate combination %s", key)
		seen[key] = true
	}

	// Re-expansion reproduces identical ordering.
	again := Expand(prompts, images, contexts, nps, temps, seeds)
	assert.Equal(t, combos, again)
}

func TestExpandSingletonYieldsOne(t *testing.T) {
	combos := Expand(
		[]string{"only"},
		[]imageutil.Image{{}},
		[]int{4096},
		[]int{128},
		[]float64{0},
		[]*int{nil},
	)
	require.Len(t, combos, 1)
	assert.Equal(t, 0, combos[0].Index)
	assert.Equal(t, model.ModeText, combos[0].Mode)
	assert.Nil(t, combos[0].Seed)
}

func TestExpandModeFollowsImage(t *testing.T) {
	images := []imageutil.Image{{Path: "cat.jpg", B64: "Zm9v"}, {}}
	combos := Expand([]string{"p"}, images, []int{1}, []int{1}, []float64{0}, []*int{nil})

	require.Len(t, combos, 2)
	assert.Equal(t, model.ModeVision, combos[0].Mode)
	assert.Equal(t, "cat.jpg", combos[0].ImagePath)
	assert.Equal(t, model.ModeText, combos[1].Mode)
	assert.Empty(t, combos[1].ImagePath)
}

func TestSelectImages(t *testing.T) {
	images := []imageutil.Image{{Path: "a.jpg", B64: "eA=="}, {}}

	text, err := SelectImages(images, "text")
	require.NoError(t, err)
	require.Len(t, text, 1)
	assert.Empty(t, text[0].Path)

	vision, err := SelectImages(images, "vision")
	require.NoError(t, err)
	require.Len(t, vision, 1)
	assert.Equal(t, "a.jpg", vision[0].Path)

	both, err := SelectImages(images, "both")
	require.NoError(t, err)
	assert.Len(t, both, 2)

	_, err = SelectImages([]imageutil.Image{{}}, "vision")
	assert.Error(t, err)

	_, err = SelectImages(images, "bogus")
	assert.Error(t, err)
}
