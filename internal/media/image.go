package media

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultGalleryLimit is used when a non-positive limit is requested.
const DefaultGalleryLimit = 20

// ImageRequest is the body of POST /image/generate.
type ImageRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
}

// ImageResult is the generator's answer.
type ImageResult struct {
	Status       string            `json:"status"`
	Message      string            `json:"message"`
	Prompt       string            `json:"prompt"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
	Steps        int               `json:"steps,omitempty"`
	Instructions map[string]string `json:"instructions,omitempty"`
	Timestamp    string            `json:"timestamp"`
}

// GalleryImage is one file in the gallery directory.
type GalleryImage struct {
	Filename  string    `json:"filename"`
	Filepath  string    `json:"filepath"`
	SizeBytes int64     `json:"size_bytes"`
	Modified  time.Time `json:"modified"`
}

// ImageGenerator answers image requests and lists the gallery directory.
type ImageGenerator struct {
	enabled    bool
	galleryDir string
	now        Clock
}

// NewImageGenerator creates an image generator reading its gallery from dir.
func NewImageGenerator(enabled bool, dir string) *ImageGenerator {
	return &ImageGenerator{enabled: enabled, galleryDir: dir, now: time.Now}
}

// Enabled reports the feature flag.
func (g *ImageGenerator) Enabled() bool { return g.enabled }

// Generate validates req and returns the placeholder result.
func (g *ImageGenerator) Generate(req ImageRequest) (ImageResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return ImageResult{}, invalid("prompt is required")
	}

	res := ImageResult{Prompt: prompt, Timestamp: isoTime(g.now())}
	if !g.enabled {
		res.Status = StatusDisabled
		res.Message = "Image generation is disabled"
		return res, nil
	}

	res.Width, res.Height = parseSize(req.Size)
	res.Steps = 20
	if req.Quality == "hd" {
		res.Steps = 50
	}
	res.Status = StatusPlaceholder
	res.Message = "Image generation not available"
	res.Instructions = map[string]string{
		"backend": "No image model is configured on this server",
	}

	log.Info().Str("prompt", truncate(prompt, 50)).Msg("image generation requested")
	return res, nil
}

// parseSize reads "WxH", falling back to 512x512.
func parseSize(size string) (int, int) {
	var w, h int
	parts := strings.Split(size, "x")
	if len(parts) == 2 {
		w, _ = atoi(parts[0])
		h, _ = atoi(parts[1])
	}
	if w <= 0 || h <= 0 {
		return 512, 512
	}
	return w, h
}

// Gallery lists up to limit images, newest file name first.
func (g *ImageGenerator) Gallery(limit int) ([]GalleryImage, error) {
	if limit <= 0 {
		limit = DefaultGalleryLimit
	}
	images := []GalleryImage{}
	if g.galleryDir == "" {
		return images, nil
	}

	entries, err := os.ReadDir(g.galleryDir)
	if os.IsNotExist(err) {
		return images, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read gallery")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() > entries[j].Name() })
	for _, e := range entries {
		if len(images) == limit {
			break
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".png" && ext != ".jpg" && ext != ".jpeg") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		images = append(images, GalleryImage{
			Filename:  e.Name(),
			Filepath:  filepath.Join(g.galleryDir, e.Name()),
			SizeBytes: info.Size(),
			Modified:  info.ModTime().UTC(),
		})
	}
	return images, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
