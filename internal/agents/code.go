package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const (
	longLineLimit    = 100
	longFunctionSize = 40
)

var (
	branchPattern   = regexp.MustCompile(`\b(if|elif|else|for|while|switch|case|catch|except)\b|&&|\|\|`)
	functionPattern = regexp.MustCompile(`^\s*(def\s+\w+|func\s+(\([^)]*\)\s*)?\w+|function\s+\w+|((public|private|protected|static)\s+)+[\w<>\[\]]+\s+\w+\s*\()`)
	classPattern    = regexp.MustCompile(`^\s*(class\s+\w+|type\s+\w+\s+(struct|interface))`)
	todoPattern     = regexp.MustCompile(`\b(TODO|FIXME|XXX)\b`)
	commentPattern  = regexp.MustCompile(`(^|\s)(#|//|/\*|\*|""")`)
)

// SupportedCodeLanguages are the languages the code assistant recognizes.
var SupportedCodeLanguages = []string{"python", "javascript", "java", "cpp", "go"}

// CodeAssistant does static, heuristic analysis of source text.
type CodeAssistant struct {
	base
}

// NewCodeAssistant creates the code assistant.
func NewCodeAssistant() *CodeAssistant {
	return &CodeAssistant{base{
		name:        "CodeAssistant",
		description: "Code analysis, review and refactoring suggestions",
		enabled:     true,
		handles:     []string{"code_review", "code_complete", "code_refactor", "code_analyze"},
	}}
}

// Execute implements Agent.
func (a *CodeAssistant) Execute(ctx context.Context, task Task) Result {
	lang := task.Language
	if lang == "" {
		lang = "python"
	}
	switch task.Type {
	case "code_analyze":
		return ok(Result{"analysis": analyzeCode(task.Code, lang)})
	case "code_review":
		return ok(Result{"review": reviewCode(task.Code, lang)})
	case "code_refactor":
		return ok(Result{"refactoring_suggestions": refactorSuggestions(task.Code)})
	case "code_complete":
		return ok(Result{
			"completion": "",
			"status":     "placeholder",
			"message":    "Code completion is not available yet",
		})
	default:
		return fail("Unknown task type")
	}
}

type codeStats struct {
	lines     []string
	branches  int
	functions []string
	classes   []string
	todos     int
	comments  int
	longLines int
}

func scan(code string) codeStats {
	st := codeStats{lines: strings.Split(code, "\n")}
	for _, line := range st.lines {
		st.branches += len(branchPattern.FindAllString(line, -1))
		if m := functionPattern.FindString(line); m != "" {
			st.functions = append(st.functions, strings.TrimSpace(m))
		}
		if m := classPattern.FindString(line); m != "" {
			st.classes = append(st.classes, strings.TrimSpace(m))
		}
		if todoPattern.MatchString(line) {
			st.todos++
		}
		if commentPattern.MatchString(line) {
			st.comments++
		}
		if len(line) > longLineLimit {
			st.longLines++
		}
	}
	return st
}

func complexity(branches int) string {
	switch {
	case branches < 5:
		return "low"
	case branches < 15:
		return "medium"
	default:
		return "high"
	}
}

func analyzeCode(code, lang string) map[string]interface{} {
	st := scan(code)

	patterns := []string{}
	if len(st.functions) > 0 {
		patterns = append(patterns, fmt.Sprintf("functions: %d", len(st.functions)))
	}
	if len(st.classes) > 0 {
		patterns = append(patterns, fmt.Sprintf("types: %d", len(st.classes)))
	}
	if st.todos > 0 {
		patterns = append(patterns, fmt.Sprintf("todo markers: %d", st.todos))
	}

	issues := []string{}
	if st.longLines > 0 {
		issues = append(issues, fmt.Sprintf("%d lines longer than %d characters", st.longLines, longLineLimit))
	}

	return map[string]interface{}{
		"language":          lang,
		"lines":             len(st.lines),
		"complexity":        complexity(st.branches),
		"branch_points":     st.branches,
		"functions":         st.functions,
		"patterns_detected": patterns,
		"potential_issues":  issues,
	}
}

func reviewCode(code, lang string) map[string]interface{} {
	st := scan(code)

	suggestions := []string{}
	warnings := []string{}
	if st.comments == 0 && len(st.lines) > 3 {
		suggestions = append(suggestions, "Add comments or docstrings to explain intent")
	}
	if lang == "python" && len(st.functions) > 0 && !strings.Contains(code, "->") {
		suggestions = append(suggestions, "Consider adding type hints")
	}
	if st.longLines > 0 {
		suggestions = append(suggestions, fmt.Sprintf("Break up %d long lines", st.longLines))
	}
	if st.todos > 0 {
		warnings = append(warnings, fmt.Sprintf("%d unresolved TODO/FIXME markers", st.todos))
	}
	if complexity(st.branches) == "high" {
		warnings = append(warnings, "High branching complexity; consider splitting functions")
	}

	quality := "good"
	switch n := len(suggestions) + len(warnings); {
	case n >= 4:
		quality = "needs work"
	case n >= 2:
		quality = "fair"
	}

	return map[string]interface{}{
		"overall_quality": quality,
		"suggestions":     suggestions,
		"critical_issues": []string{},
		"warnings":        warnings,
	}
}

// refactorSuggestions flags functions longer than longFunctionSize lines.
// A function runs from its header to the line before the next header.
func refactorSuggestions(code string) []map[string]interface{} {
	lines := strings.Split(code, "\n")
	var starts []int
	for i, line := range lines {
		if functionPattern.MatchString(line) {
			starts = append(starts, i)
		}
	}

	out := []map[string]interface{}{}
	for i, start := range starts {
		end := len(lines) - 1
		if i+1 < len(starts) {
			end = starts[i+1] - 1
		}
		for end > start && strings.TrimSpace(lines[end]) == "" {
			end--
		}
		if size := end - start + 1; size > longFunctionSize {
			out = append(out, map[string]interface{}{
				"type":     "extract_method",
				"reason":   fmt.Sprintf("Long method detected (%d lines)", size),
				"location": fmt.Sprintf("line %d-%d", start+1, end+1),
			})
		}
	}
	return out
}
