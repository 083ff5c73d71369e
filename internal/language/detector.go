// Package language guesses the language of a message from its script and
// from common short words. It is a heuristic with fixed tables; ties go to
// the earlier table entry.
package language

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultCode is returned when nothing better is found.
	DefaultCode = "en"

	minTextLength     = 3
	shortConfidence   = 0.5
	unknownConfidence = 0.3
	scriptThreshold   = 0.3
	historySize       = 100
)

type runeRange struct{ lo, hi rune }

type script struct {
	code   string
	ranges []runeRange
}

// scripts is checked in this order.
var scripts = []script{
	{"zh", []runeRange{{0x4E00, 0x9FFF}}},
	{"ja", []runeRange{{0x3040, 0x309F}, {0x30A0, 0x30FF}}},
	{"ar", []runeRange{{0x0600, 0x06FF}}},
	{"ru", []runeRange{{0x0400, 0x04FF}}},
}

type wordList struct {
	code  string
	words []string
}

// commonWords is checked in this order, after scripts.
var commonWords = []wordList{
	{"en", []string{"the", "is", "are", "and", "or", "you", "what", "how", "when", "where"}},
	{"es", []string{"el", "la", "los", "las", "que", "como", "cuando", "donde", "por", "para"}},
	{"fr", []string{"le", "la", "les", "un", "une", "est", "sont", "que", "comme", "pour"}},
	{"de", []string{"der", "die", "das", "ist", "sind", "und", "oder", "wie", "was", "wo"}},
	{"pt", []string{"o", "a", "os", "as", "que", "como", "quando", "onde", "por", "para"}},
	{"it", []string{"il", "la", "i", "le", "che", "come", "quando", "dove", "per", "sono"}},
}

var names = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"zh": "Chinese",
	"ja": "Japanese",
	"ar": "Arabic",
	"pt": "Portuguese",
	"ru": "Russian",
	"it": "Italian",
}

// Detection is one history entry.
type Detection struct {
	Timestamp  time.Time `json:"timestamp"`
	TextLength int       `json:"text_length"`
	Language   string    `json:"detected_language"`
	Confidence float64   `json:"confidence"`
}

// Stats aggregates the detection history.
type Stats struct {
	TotalDetections int            `json:"total_detections"`
	LanguageCounts  map[string]int `json:"language_counts"`
	MostCommon      string         `json:"most_common"`
}

// Detector is safe for concurrent use.
type Detector struct {
	mu      sync.Mutex
	history []Detection
	now     func() time.Time
}

// NewDetector creates a detector with an empty history.
func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

type score struct {
	code  string
	value float64
}

// Detect returns a language code and a confidence in [0, 1]. The length
// check ignores surrounding whitespace; script fractions count every rune of
// text, whitespace included.
func (d *Detector) Detect(text string) (string, float64) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minTextLength {
		return DefaultCode, shortConfidence
	}
	total := utf8.RuneCountInString(text)

	// Candidate order is fixed so equal scores resolve to the earlier entry.
	var scores []score
	for _, s := range scripts {
		matched := 0
		for _, r := range text {
			if s.contains(r) {
				matched++
			}
		}
		if matched > 0 {
			scores = append(scores, score{s.code, float64(matched) / float64(total)})
		}
	}

	if best, ok := pick(scores); ok && best.value > scriptThreshold {
		return d.record(total, best.code, min(best.value, 1.0))
	}

	lower := strings.ToLower(text)
	for _, wl := range commonWords {
		found := 0
		for _, w := range wl.words {
			if strings.Contains(lower, w) {
				found++
			}
		}
		if found > 0 {
			scores = appendOrRaise(scores, wl.code, float64(found)/float64(len(wl.words)))
		}
	}

	if best, ok := pick(scores); ok {
		return d.record(total, best.code, min(best.value, 1.0))
	}
	return d.record(total, DefaultCode, unknownConfidence)
}

func (s script) contains(r rune) bool {
	for _, rr := range s.ranges {
		if r >= rr.lo && r <= rr.hi {
			return true
		}
	}
	return false
}

// appendOrRaise overwrites an existing code's score, keeping its position.
func appendOrRaise(scores []score, code string, v float64) []score {
	for i := range scores {
		if scores[i].code == code {
			scores[i].value = v
			return scores
		}
	}
	return append(scores, score{code, v})
}

func pick(scores []score) (score, bool) {
	if len(scores) == 0 {
		return score{}, false
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.value > best.value {
			best = s
		}
	}
	return best, true
}

func (d *Detector) record(length int, code string, confidence float64) (string, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, Detection{
		Timestamp:  d.now(),
		TextLength: length,
		Language:   code,
		Confidence: confidence,
	})
	if len(d.history) > historySize {
		d.history = append([]Detection(nil), d.history[len(d.history)-historySize:]...)
	}
	return code, confidence
}

// History returns a copy of the retained detections, oldest first.
func (d *Detector) History() []Detection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Detection(nil), d.history...)
}

// Stats aggregates the history. MostCommon ties go to the language seen first.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Stats{TotalDetections: len(d.history), LanguageCounts: map[string]int{}}
	if len(d.history) == 0 {
		return st
	}

	var order []string
	for _, h := range d.history {
		if _, seen := st.LanguageCounts[h.Language]; !seen {
			order = append(order, h.Language)
		}
		st.LanguageCounts[h.Language]++
	}
	st.MostCommon = order[0]
	for _, code := range order[1:] {
		if st.LanguageCounts[code] > st.LanguageCounts[st.MostCommon] {
			st.MostCommon = code
		}
	}
	return st
}

// Name returns the English name of a code, or "Unknown".
func Name(code string) string {
	if n, ok := names[code]; ok {
		return n
	}
	return "Unknown"
}

// IsSupported reports whether code is a known language.
func IsSupported(code string) bool {
	_, ok := names[code]
	return ok
}

// Supported returns code -> name for every supported language.
func Supported() map[string]string {
	out := make(map[string]string, len(names))
	for k, v := range names {
		out[k] = v
	}
	return out
}

// Codes returns the supported codes sorted.
func Codes() []string {
	out := make([]string, 0, len(names))
	for k := range names {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
