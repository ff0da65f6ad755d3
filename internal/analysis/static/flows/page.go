// Package flows turns the sinks of a page into taint flow reports: each sink's taintable
// identifiers are resolved backwards into program slices, classified, and rendered as the
// page's sinks.flows.out artifacts.
package flows

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/reporting"
)

// ErrSinkListMissing is returned when a page directory holds no sinks.out.json.
var ErrSinkListMissing = errors.New("sink list missing")

const (
	// WebpagesFile lists the analyzable webpages per website inside the input directory.
	WebpagesFile = "webpages_final.json"
	// URLFile optionally holds the address a page directory was crawled from.
	URLFile = "url.out"
)

// Page is one crawled webpage directory.
type Page struct {
	URL string
	Dir string
	// Hash names the page in reports and namespaces its graph nodes.
	Hash string
}

// NewPage describes the page stored in dir. An empty url is read from the directory's
// url.out, falling back to the page hash.
func NewPage(dir, url string) Page {
	p := Page{URL: url, Dir: dir, Hash: filepath.Base(filepath.Clean(dir))}
	if p.URL == "" {
		if data, err := os.ReadFile(filepath.Join(dir, URLFile)); err == nil {
			p.URL = strings.TrimSpace(string(data))
		}
	}
	if p.URL == "" {
		p.URL = p.Hash
	}
	return p
}

// ReadPages loads inputDir/webpages_final.json and returns the listed pages under dataDir,
// ordered by website and then by page.
func ReadPages(inputDir, dataDir string) ([]Page, error) {
	path := filepath.Join(inputDir, WebpagesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read webpage list: %w", err)
	}
	var index schemas.WebpageIndex
	if err := reporting.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("malformed webpage list %s: %w", path, err)
	}

	sites := make([]string, 0, len(index))
	for site := range index {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	var pages []Page
	for _, site := range sites {
		names := make([]string, 0, len(index[site]))
		for name := range index[site] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			pages = append(pages, NewPage(filepath.Join(dataDir, site, name), ""))
		}
	}
	return pages, nil
}
