package results

import "github.com/xkilldash9x/reqhijack/api/schemas"

type set map[string]struct{}

func (s set) add(k string) { s[k] = struct{}{} }

// tally counts the flows of each pattern and the distinct pages and sites they occur on.
type tally struct {
	flows map[Pattern]int
	pages map[Pattern]set
	sites map[Pattern]set
}

func newTally() *tally {
	return &tally{flows: map[Pattern]int{}, pages: map[Pattern]set{}, sites: map[Pattern]set{}}
}

func (t *tally) add(p Pattern, site, page string) {
	t.flows[p]++
	if t.pages[p] == nil {
		t.pages[p] = set{}
		t.sites[p] = set{}
	}
	t.pages[p].add(site + "/" + page)
	t.sites[p].add(site)
}

func (t *tally) merge(o *tally) {
	for p, n := range o.flows {
		t.flows[p] += n
	}
	for _, src := range []struct{ dst, from map[Pattern]set }{{t.pages, o.pages}, {t.sites, o.sites}} {
		for p, members := range src.from {
			if src.dst[p] == nil {
				src.dst[p] = set{}
			}
			for k := range members {
				src.dst[p].add(k)
			}
		}
	}
}

func (t *tally) counts() (flows, pages, sites map[string]int) {
	flows, pages, sites = map[string]int{}, map[string]int{}, map[string]int{}
	for p, n := range t.flows {
		flows[string(p)] = n
		pages[string(p)] = len(t.pages[p])
		sites[string(p)] = len(t.sites[p])
	}
	return flows, pages, sites
}

// Aggregate accumulates pattern statistics globally and per sink kind. A webpage or website
// contributes at most once to the page and site counts of a pattern, however many flows it
// has and however the input is partitioned across aggregates. The zero value is not usable;
// use NewAggregate.
type Aggregate struct {
	global *tally
	bySink map[string]*tally
}

// NewAggregate creates an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{global: newTally(), bySink: map[string]*tally{}}
}

// Add records one flow of pattern p for sink on website/webpage.
func (a *Aggregate) Add(sink, website, webpage string, p Pattern) {
	a.global.add(p, website, webpage)
	t, ok := a.bySink[sink]
	if !ok {
		t = newTally()
		a.bySink[sink] = t
	}
	t.add(p, website, webpage)
}

// Merge folds o into a. Flow counts add up while page and site memberships are united.
func (a *Aggregate) Merge(o *Aggregate) {
	a.global.merge(o.global)
	for sink, t := range o.bySink {
		dst, ok := a.bySink[sink]
		if !ok {
			dst = newTally()
			a.bySink[sink] = dst
		}
		dst.merge(t)
	}
}

// Flows returns the number of flows recorded.
func (a *Aggregate) Flows() int {
	total := 0
	for _, n := range a.global.flows {
		total += n
	}
	return total
}

// Counts produces the six pattern count maps. Every sink of the vocabulary is present in the
// per-sink maps, empty when it had no flows.
func (a *Aggregate) Counts() *schemas.PatternStats {
	stats := &schemas.PatternStats{
		SinkPatterns:   map[string]map[string]int{},
		SinkPatternsWB: map[string]map[string]int{},
		SinkPatternsWS: map[string]map[string]int{},
	}
	stats.Patterns, stats.PatternsWB, stats.PatternsWS = a.global.counts()
	for _, sink := range SinkTypes {
		stats.SinkPatterns[sink] = map[string]int{}
		stats.SinkPatternsWB[sink] = map[string]int{}
		stats.SinkPatternsWS[sink] = map[string]int{}
	}
	for sink, t := range a.bySink {
		stats.SinkPatterns[sink], stats.SinkPatternsWB[sink], stats.SinkPatternsWS[sink] = t.counts()
	}
	return stats
}
