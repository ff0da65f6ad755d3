package results

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

type flow struct {
	sink, site, page string
	p                Pattern
}

var sampleFlows = []flow{
	{"fetch_url", "a.com", "p1", PatternWhole},
	{"fetch_url", "a.com", "p1", PatternWhole},
	{"fetch_url", "a.com", "p2", PatternWhole},
	{"window.open", "a.com", "p1", PatternWhole},
	{"window.open", "b.com", "p9", PatternMalformed},
	{"fetch_data", "b.com", "p9", PatternBody},
}

func aggregateOf(flows []flow) *Aggregate {
	agg := NewAggregate()
	for _, f := range flows {
		agg.Add(f.sink, f.site, f.page, f.p)
	}
	return agg
}

func TestAggregateCounts(t *testing.T) {
	stats := aggregateOf(sampleFlows).Counts()

	assert.Equal(t, map[string]int{string(PatternWhole): 4, string(PatternMalformed): 1, string(PatternBody): 1}, stats.Patterns)
	assert.Equal(t, map[string]int{string(PatternWhole): 2, string(PatternMalformed): 1, string(PatternBody): 1}, stats.PatternsWB)
	assert.Equal(t, map[string]int{string(PatternWhole): 1, string(PatternMalformed): 1, string(PatternBody): 1}, stats.PatternsWS)

	assert.Equal(t, map[string]int{string(PatternWhole): 3}, stats.SinkPatterns["fetch_url"])
	assert.Equal(t, map[string]int{string(PatternWhole): 2}, stats.SinkPatternsWB["fetch_url"])
	assert.Equal(t, map[string]int{string(PatternWhole): 1, string(PatternMalformed): 1}, stats.SinkPatternsWS["window.open"])

	assert.Len(t, stats.SinkPatterns, len(SinkTypes), "every sink kind is listed")
	assert.Empty(t, stats.SinkPatterns["script_src"])
}

func TestAggregateMerge(t *testing.T) {
	whole := aggregateOf(sampleFlows).Counts()

	for split := 0; split <= len(sampleFlows); split++ {
		left := aggregateOf(sampleFlows[:split])
		left.Merge(aggregateOf(sampleFlows[split:]))
		if diff := cmp.Diff(whole, left.Counts()); diff != "" {
			t.Errorf("split at %d differs (-unsplit +merged):\n%s", split, diff)
		}
	}

	t.Run("interleaved partitions", func(t *testing.T) {
		var even, odd []flow
		for i, f := range sampleFlows {
			if i%2 == 0 {
				even = append(even, f)
			} else {
				odd = append(odd, f)
			}
		}
		merged := aggregateOf(odd)
		merged.Merge(aggregateOf(even))
		assert.Empty(t, cmp.Diff(whole, merged.Counts()))
		assert.Equal(t, len(sampleFlows), merged.Flows())
	})

	t.Run("merging an empty aggregate is neutral", func(t *testing.T) {
		agg := aggregateOf(sampleFlows)
		agg.Merge(NewAggregate())
		assert.Empty(t, cmp.Diff(whole, agg.Counts()))
	})
}
