package media

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const maxVideoHistory = 50

var (
	videoStyles = map[string]bool{
		"realistic": true, "anime": true, "cartoon": true,
		"cinematic": true, "abstract": true, "documentary": true,
	}
	// seconds of work per second of video, by resolution
	resolutionFactor = map[string]float64{
		"512x512":   1,
		"1280x720":  2,
		"1920x1080": 4,
		"3840x2160": 8,
	}
)

// VideoRequest is the body of POST /video/generate.
type VideoRequest struct {
	Prompt     string `json:"prompt"`
	Duration   int    `json:"duration,omitempty"`
	Style      string `json:"style,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	FPS        int    `json:"fps,omitempty"`
	Seed       *int   `json:"seed,omitempty"`
}

// VideoResult is the generator's answer.
type VideoResult struct {
	VideoID       string   `json:"video_id"`
	Prompt        string   `json:"prompt"`
	Status        string   `json:"status"`
	Duration      int      `json:"duration"`
	Style         string   `json:"style"`
	Resolution    string   `json:"resolution"`
	FPS           int      `json:"fps"`
	URL           *string  `json:"url"`
	ThumbnailURL  *string  `json:"thumbnail_url"`
	SizeMB        *float64 `json:"size_mb"`
	CreatedAt     string   `json:"created_at"`
	EstimatedTime int      `json:"estimated_time"`
	Message       string   `json:"message"`
}

// VideoStatus is the answer of GET /video/status/{id}.
type VideoStatus struct {
	VideoID    string `json:"video_id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	ETASeconds int    `json:"eta_seconds"`
	Message    string `json:"message"`
}

// VideoModel describes a supported video model.
type VideoModel struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Cost        string   `json:"cost"`
	Quality     string   `json:"quality"`
	Speed       string   `json:"speed"`
	MaxDuration int      `json:"max_duration"`
	Features    []string `json:"features"`
}

// VideoGenerator answers video requests and keeps a short history.
type VideoGenerator struct {
	enabled bool
	model   string
	now     Clock

	mu      sync.Mutex
	history []VideoResult
}

// NewVideoGenerator creates a video generator for model.
func NewVideoGenerator(enabled bool, model string) *VideoGenerator {
	if model == "" {
		model = "runway"
	}
	return &VideoGenerator{enabled: enabled, model: model, now: time.Now}
}

// Enabled reports the feature flag.
func (g *VideoGenerator) Enabled() bool { return g.enabled }

// Model returns the configured model key.
func (g *VideoGenerator) Model() string { return g.model }

func (r *VideoRequest) normalize() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if n := len([]rune(r.Prompt)); n < 3 || n > 1000 {
		return invalid("prompt must be between 3 and 1000 characters")
	}
	if r.Duration == 0 {
		r.Duration = 4
	}
	if r.Duration < 2 || r.Duration > 16 {
		return invalid("duration must be between 2 and 16 seconds")
	}
	if r.Style == "" {
		r.Style = "realistic"
	}
	if !videoStyles[r.Style] {
		return invalid("unknown style %q", r.Style)
	}
	if r.Resolution == "" {
		r.Resolution = "1280x720"
	}
	if _, ok := resolutionFactor[r.Resolution]; !ok {
		return invalid("unknown resolution %q", r.Resolution)
	}
	if r.FPS == 0 {
		r.FPS = 24
	}
	if r.FPS < 12 || r.FPS > 60 {
		return invalid("fps must be between 12 and 60")
	}
	return nil
}

// Generate validates req and returns the placeholder result. Ids have the
// form vid_YYYYMMDD_HHMMSS.
func (g *VideoGenerator) Generate(req VideoRequest) (VideoResult, error) {
	if err := req.normalize(); err != nil {
		return VideoResult{}, err
	}

	now := g.now()
	res := VideoResult{
		VideoID:       "vid_" + now.Format("20060102_150405"),
		Prompt:        req.Prompt,
		Status:        StatusPlaceholder,
		Duration:      req.Duration,
		Style:         req.Style,
		Resolution:    req.Resolution,
		FPS:           req.FPS,
		CreatedAt:     isoTime(now),
		EstimatedTime: int(float64(req.Duration*30) * resolutionFactor[req.Resolution]),
		Message:       "Video generation not yet implemented. This is a placeholder.",
	}
	if !g.enabled {
		res.Status = StatusDisabled
		res.Message = "Video generation is disabled"
	}

	g.mu.Lock()
	g.history = append(g.history, res)
	if len(g.history) > maxVideoHistory {
		g.history = g.history[len(g.history)-maxVideoHistory:]
	}
	g.mu.Unlock()

	log.Info().Str("video_id", res.VideoID).Str("prompt", truncate(req.Prompt, 50)).Msg("video generation requested")
	return res, nil
}

// Status reports the state of a generation.
func (g *VideoGenerator) Status(id string) VideoStatus {
	st := VideoStatus{
		VideoID: id,
		Status:  StatusPlaceholder,
		Message: "Status checking not yet implemented.",
	}
	if !g.enabled {
		st.Status = StatusDisabled
		st.Message = "Video generation is disabled"
	}
	return st
}

// History returns up to limit of the most recent generations.
func (g *VideoGenerator) History(limit int) []VideoResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	start := 0
	if limit > 0 && len(g.history) > limit {
		start = len(g.history) - limit
	}
	return append([]VideoResult(nil), g.history[start:]...)
}

// Models lists the video models the server knows about.
func (g *VideoGenerator) Models() map[string]VideoModel {
	return map[string]VideoModel{
		"runway": {
			Name: "RunwayML Gen-2", Type: "cloud", Cost: "Paid ($0.05/sec)",
			Quality: "High", Speed: "Medium", MaxDuration: 16,
			Features: []string{"text-to-video", "image-to-video", "video-to-video"},
		},
		"stable-diffusion-video": {
			Name: "Stable Diffusion Video", Type: "local", Cost: "Free (GPU required)",
			Quality: "Medium-High", Speed: "Slow", MaxDuration: 8,
			Features: []string{"image-to-video", "text-to-video"},
		},
		"sora": {
			Name: "OpenAI Sora", Type: "cloud", Cost: "TBA",
			Quality: "Very High", Speed: "Medium", MaxDuration: 60,
			Features: []string{"text-to-video"},
		},
	}
}
