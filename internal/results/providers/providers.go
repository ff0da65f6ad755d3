// Package providers loads the categorizer's inputs: the webpage index, the per-pair flow
// count files and the per-page taint flow files.
package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/reqhijack/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when a requested input does not exist.
var ErrNotFound = errors.New("categorizer input not found")

// WebpagesFile is the webpage index inside the input directory.
const WebpagesFile = "webpages_final.json"

// Provider supplies categorizer inputs. Implementations must be safe for concurrent use.
type Provider interface {
	Webpages(ctx context.Context) (schemas.WebpageIndex, error)
	FlowCounts(ctx context.Context, source, sink string) (schemas.FlowCountFile, error)
	Taintflows(ctx context.Context, website, webpage, source, sink string) ([]schemas.TaintflowEntry, error)
}

// FileProvider reads inputs from the crawler's directory layout.
type FileProvider struct {
	InputDir  string
	OutputDir string
	DataDir   string
}

var _ Provider = FileProvider{}

// CountFile is the path of the flow count file of a (source, sink) pair.
func (p FileProvider) CountFile(source, sink string) string {
	return filepath.Join(p.OutputDir, fmt.Sprintf("taintflows_count_filter_%s_%s_topframe.json", source, sink))
}

// TaintflowFile is the path of a page's taint flow file for a (source, sink) pair.
func (p FileProvider) TaintflowFile(website, webpage, source, sink string) string {
	return filepath.Join(p.DataDir, website, webpage, fmt.Sprintf("taintflows_filter_%s_%s_topframe.json", source, sink))
}

// Webpages implements Provider.
func (p FileProvider) Webpages(ctx context.Context) (schemas.WebpageIndex, error) {
	var index schemas.WebpageIndex
	if err := readJSON(ctx, filepath.Join(p.InputDir, WebpagesFile), &index); err != nil {
		return nil, err
	}
	return index, nil
}

// FlowCounts implements Provider.
func (p FileProvider) FlowCounts(ctx context.Context, source, sink string) (schemas.FlowCountFile, error) {
	var counts schemas.FlowCountFile
	if err := readJSON(ctx, p.CountFile(source, sink), &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// Taintflows implements Provider.
func (p FileProvider) Taintflows(ctx context.Context, website, webpage, source, sink string) ([]schemas.TaintflowEntry, error) {
	var entries []schemas.TaintflowEntry
	if err := readJSON(ctx, p.TaintflowFile(website, webpage, source, sink), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func readJSON(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed %s: %w", path, err)
	}
	return nil
}
