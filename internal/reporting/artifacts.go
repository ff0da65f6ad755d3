package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xkilldash9x/reqhijack/api/schemas"
)

// WriteFlowReport renders the text and JSON artifacts of a page and writes them together.
func WriteFlowReport(dir string, report *schemas.FlowReport) error {
	var files []File
	for _, r := range []Reporter{TextReporter{}, JSONReporter{}} {
		data, err := r.Render(report)
		if err != nil {
			return err
		}
		files = append(files, File{Name: r.FileName(), Data: data})
	}
	return WriteAtomic(dir, files...)
}

// WriteSinkList writes a page's sinks.out.json.
func WriteSinkList(dir string, list *schemas.SinkList) error {
	out := *list
	if out.Sinks == nil {
		out.Sinks = []schemas.SinkRecord{}
	}
	data, err := MarshalIndent(&out)
	if err != nil {
		return fmt.Errorf("failed to encode sink list: %w", err)
	}
	return WriteAtomic(dir, File{Name: SinkListFile, Data: data})
}

// ReadSinkList reads a page's sinks.out.json. A missing file is reported with an error
// wrapping os.ErrNotExist.
func ReadSinkList(dir string) (*schemas.SinkList, error) {
	data, err := os.ReadFile(filepath.Join(dir, SinkListFile))
	if err != nil {
		return nil, err
	}
	var list schemas.SinkList
	if err := Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("malformed %s in %s: %w", SinkListFile, dir, err)
	}
	return &list, nil
}

// PatternFileNames returns the six pattern artifact names for a selection slug, in the order
// of PatternFiles.
func PatternFileNames(slug string) []string {
	return []string{
		slug + "req_patterns.json",
		slug + "req_patterns_wb.json",
		slug + "req_patterns_ws.json",
		slug + "req_sink_patterns.json",
		slug + "req_sink_patterns_wb.json",
		slug + "req_sink_patterns_ws.json",
	}
}

// WritePatternStats writes the six pattern count files of a categorizer run.
func WritePatternStats(dir, slug string, stats *schemas.PatternStats) error {
	names := PatternFileNames(slug)
	values := []any{
		nonNil(stats.Patterns), nonNil(stats.PatternsWB), nonNil(stats.PatternsWS),
		nonNilNested(stats.SinkPatterns), nonNilNested(stats.SinkPatternsWB), nonNilNested(stats.SinkPatternsWS),
	}
	files := make([]File, len(names))
	for i, v := range values {
		data, err := MarshalIndent(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", names[i], err)
		}
		files[i] = File{Name: names[i], Data: data}
	}
	return WriteAtomic(dir, files...)
}

func nonNil(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func nonNilNested(m map[string]map[string]int) map[string]map[string]int {
	if m == nil {
		return map[string]map[string]int{}
	}
	return m
}
