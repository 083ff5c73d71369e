package agents

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	maxTextRead   = 10 * 1024 * 1024
	maxListedScan = 100
	previewLines  = 5
)

// FileAnalyzer reports on files and directories under an optional root.
type FileAnalyzer struct {
	base
	root string
}

// NewFileAnalyzer creates the analyzer. When root is non-empty, relative
// paths resolve against it and paths outside it are refused.
func NewFileAnalyzer(root string) *FileAnalyzer {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &FileAnalyzer{
		base: base{
			name:        "FileAnalyzer",
			description: "File operations and content analysis",
			enabled:     true,
			handles:     []string{"file_analyze", "directory_scan", "file_summary"},
		},
		root: root,
	}
}

// Execute implements Agent.
func (a *FileAnalyzer) Execute(ctx context.Context, task Task) Result {
	path, err := a.resolve(task.Path)
	if err != "" {
		return fail(err)
	}

	switch task.Type {
	case "file_analyze":
		return a.analyze(path, false)
	case "file_summary":
		return a.analyze(path, true)
	case "directory_scan":
		return a.scanDirectory(ctx, path)
	default:
		return fail("Unknown task type")
	}
}

func (a *FileAnalyzer) resolve(p string) (string, string) {
	if strings.TrimSpace(p) == "" {
		return "", "Path is required"
	}
	if a.root == "" {
		return filepath.Clean(p), ""
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(a.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(a.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "Path is outside the allowed directory"
	}
	return p, ""
}

func (a *FileAnalyzer) analyze(path string, preview bool) Result {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fail("File not found")
	}
	if err != nil {
		return fail(err.Error())
	}
	if info.IsDir() {
		return fail("Path is a directory")
	}

	fileInfo := map[string]interface{}{
		"name":       info.Name(),
		"extension":  filepath.Ext(path),
		"size_bytes": info.Size(),
		"size_kb":    float64(info.Size()) / 1024,
		"line_count": 0,
		"word_count": 0,
		"is_text":    false,
		"modified":   info.ModTime().UTC(),
	}

	var content string
	if info.Size() <= maxTextRead {
		if data, err := os.ReadFile(path); err == nil && utf8.Valid(data) {
			content = string(data)
			fileInfo["line_count"] = len(strings.Split(content, "\n"))
			fileInfo["word_count"] = len(strings.Fields(content))
			fileInfo["is_text"] = true
		}
	}

	res := Result{"file_info": fileInfo}
	if preview && content != "" {
		lines := strings.Split(content, "\n")
		if len(lines) > previewLines {
			lines = lines[:previewLines]
		}
		res["preview"] = lines
	}
	return ok(res)
}

func (a *FileAnalyzer) scanDirectory(ctx context.Context, dir string) Result {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fail("Directory not found")
	}

	files := []map[string]interface{}{}
	var total, count int64
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		count++
		total += fi.Size()
		if len(files) < maxListedScan {
			rel, _ := filepath.Rel(dir, p)
			files = append(files, map[string]interface{}{
				"path":      rel,
				"size":      fi.Size(),
				"extension": filepath.Ext(p),
			})
		}
		return nil
	})
	if err != nil {
		return fail(err.Error())
	}

	return ok(Result{"scan_result": map[string]interface{}{
		"total_files":      count,
		"total_size_bytes": total,
		"total_size_mb":    float64(total) / (1024 * 1024),
		"files":            files,
	}})
}
