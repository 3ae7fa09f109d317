/*
PURPOSE:
  Image loading for multimodal runs: validation, base64 encoding,
  directory globbing and default-image discovery.

REQUIREMENTS:
  User-specified:
  - Accept a single image path and/or a directory of images.
  - Text-only mode must always remain available; a broken image is a
    warning, never a fatal error.

  Implementation-discovered:
  - Ollama expects images base64-encoded inside the request body.
  - A zero-value Image means "no image" (text mode).

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli, internal/sweep
  - Produces: Image values consumed by the expander.

ERROR HANDLING:
  - Per-file failures are logged and skipped.

IMPLEMENTATION RULES:
  - Validate by extension only; the server does the real decoding.
  - Keep the encoded payload in memory for the sweep's lifetime (one
    sweep rarely uses more than a handful of images).

USAGE:
  imgs := imageutil.LoadAll(imagePath, imageDir)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/sweep/expand.go

MAINTENANCE:
  - Extend validExtensions if new formats are needed.
*/

package imageutil

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcabrer/ollama-sweep/internal/output"
)

// Image is one candidate image for vision runs. The zero value means
// text-only mode (no image attached).
type Image struct {
	Path string
	B64  string
}

var validExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// Valid reports whether path looks like a usable image file.
func Valid(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return validExtensions[strings.ToLower(filepath.Ext(path))]
}

// Encode reads and base64-encodes one image file.
func Encode(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// FindDefault looks for a bundled test image under assets/.
func FindDefault() string {
	candidates, _ := filepath.Glob("assets/*")
	for _, c := range candidates {
		if Valid(c) {
			return c
		}
	}
	return ""
}

// LoadAll gathers every usable image from the single-path flag and the
// directory flag, falls back to the default asset, and always appends
// the text-only entry so mode "both" covers it.
func LoadAll(imagePath, imageDir string) []Image {
	var images []Image

	load := func(path string) {
		if !Valid(path) {
			return
		}
		b64, err := Encode(path)
		if err != nil {
			output.Logger.Warn("Failed to load image", "path", path, "err", err)
			return
		}
		images = append(images, Image{Path: path, B64: b64})
	}

	if imagePath != "" {
		load(imagePath)
	}

	if imageDir != "" {
		entries, err := os.ReadDir(imageDir)
		if err != nil {
			output.Logger.Warn("Failed to read image directory", "dir", imageDir, "err", err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				load(filepath.Join(imageDir, e.Name()))
			}
		}
	}

	if len(images) == 0 {
		if def := FindDefault(); def != "" {
			load(def)
		}
	}

	// Text-only entry always present for mode "both".
	images = append(images, Image{})

	return images
}
