package language

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		code    string
		minConf float64
		maxConf float64
	}{
		{"chinese script", "你好，你好吗？", "zh", 0.3, 1.0},
		{"english words", "Hello, how are you?", "en", 0.01, 1.0},
		{"two characters", "hi", "en", 0.5, 0.5},
		{"two cjk characters", "你好", "en", 0.5, 0.5},
		{"whitespace padded short", "   ok   ", "en", 0.5, 0.5},
		{"russian", "Привет, как дела?", "ru", 0.3, 1.0},
		{"arabic", "مرحبا كيف حالك", "ar", 0.3, 1.0},
		{"japanese kana", "こんにちは、げんきですか", "ja", 0.3, 1.0},
		{"german", "Wie ist das Wetter und wo sind die Kinder?", "de", 0.01, 1.0},
		{"no signal", "xyz 123 !!", "en", 0.3, 0.3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, conf := NewDetector().Detect(tc.text)
			assert.Equal(t, tc.code, code)
			assert.GreaterOrEqual(t, conf, tc.minConf)
			assert.LessOrEqual(t, conf, tc.maxConf)
		})
	}
}

func TestDetect_ChineseRatio(t *testing.T) {
	// Five of seven runes are in the CJK range.
	_, conf := NewDetector().Detect("你好，你好吗？")
	assert.InDelta(t, 5.0/7.0, conf, 1e-9)
}

func TestDetect_WordScore(t *testing.T) {
	// "how", "are", "you" match the English list.
	code, conf := NewDetector().Detect("Hello, how are you?")
	assert.Equal(t, "en", code)
	assert.InDelta(t, 0.3, conf, 1e-9)
}

func TestDetect_TiesGoToEarlierEntry(t *testing.T) {
	// "la" scores es, fr, pt and it equally; es comes first.
	code, conf := NewDetector().Detect("la xyz")
	assert.Equal(t, "es", code)
	assert.InDelta(t, 0.1, conf, 1e-9)
}

func TestDetect_ScriptThresholdIsExclusive(t *testing.T) {
	// 6 CJK runes of 20: exactly 0.3, so the word table gets a say and
	// "the", "is", "and", "or" give English 0.4.
	code, conf := NewDetector().Detect("你好吗你好吗 the is and or")
	assert.Equal(t, "en", code)
	assert.InDelta(t, 0.4, conf, 1e-9)

	// 7 of 21 is above the threshold and short-circuits the word table.
	code, conf = NewDetector().Detect("你好吗你好吗你 the is and or")
	assert.Equal(t, "zh", code)
	assert.InDelta(t, 1.0/3.0, conf, 1e-9)
}

func TestDetect_ScriptFractionCountsSurroundingWhitespace(t *testing.T) {
	// 3 of 7 runes once trimmed, but 3 of 10 as sent: not above the
	// threshold, and with no word matches the sub-threshold score wins.
	code, conf := NewDetector().Detect("你好吗1234   ")
	assert.Equal(t, "zh", code)
	assert.InDelta(t, 0.3, conf, 1e-9)

	_, conf = NewDetector().Detect("你好吗1234")
	assert.InDelta(t, 3.0/7.0, conf, 1e-9)
}

func TestDetect_ScriptBelowThresholdCompetesWithWords(t *testing.T) {
	// One Cyrillic rune out of many is below the script threshold, so
	// English words win.
	code, _ := NewDetector().Detect("what is the name of this thing д")
	assert.Equal(t, "en", code)
}

func TestHistoryAndStats(t *testing.T) {
	d := NewDetector()
	assert.Equal(t, Stats{LanguageCounts: map[string]int{}}, d.Stats())

	d.Detect("hi") // too short, not recorded
	d.Detect("你好，你好吗？")
	d.Detect("Hello, how are you?")
	d.Detect("What is the weather where you are?")

	st := d.Stats()
	assert.Equal(t, 3, st.TotalDetections)
	assert.Equal(t, map[string]int{"zh": 1, "en": 2}, st.LanguageCounts)
	assert.Equal(t, "en", st.MostCommon)

	h := d.History()
	require.Len(t, h, 3)
	assert.Equal(t, "zh", h[0].Language)
	assert.Equal(t, 7, h[0].TextLength)
}

func TestHistoryIsBounded(t *testing.T) {
	d := NewDetector()
	for i := 0; i < historySize+25; i++ {
		d.Detect(fmt.Sprintf("the message number %d", i))
	}
	assert.Len(t, d.History(), historySize)
	assert.Equal(t, historySize, d.Stats().TotalDetections)
}

func TestDetectConcurrent(t *testing.T) {
	d := NewDetector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Detect("where are you going?")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, d.Stats().TotalDetections)
}

func TestSupported(t *testing.T) {
	assert.Len(t, Supported(), 10)
	assert.Equal(t, "Spanish", Name("es"))
	assert.Equal(t, "Unknown", Name("xx"))
	assert.True(t, IsSupported("it"))
	assert.False(t, IsSupported("nl"))
	assert.Equal(t, []string{"ar", "de", "en", "es", "fr", "it", "ja", "pt", "ru", "zh"}, Codes())
}
