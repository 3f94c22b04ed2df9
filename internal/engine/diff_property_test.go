package engine

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// apply replays a computed diff onto a copy of the existing map.
func apply(existing map[string]int, inserts, updates []int, deletes []string, key func(int) string) map[string]int {
	out := make(map[string]int, len(existing))
	for k, v := range existing {
		out[k] = v
	}
	for _, k := range deletes {
		delete(out, k)
	}
	for _, v := range updates {
		out[key(v)] = v
	}
	for _, v := range inserts {
		out[key(v)] = v
	}
	return out
}

// Property: applying the diff of (existing, fetched) onto existing yields
// exactly fetched, and diffing again afterwards yields an empty diff. This
// is what makes a crashed batch safe to rerun.
func TestProperty_DiffReconcilesAndIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	// Values double as their own keys modulo 16, so generated maps overlap
	// and produce all three kinds of change.
	key := func(v int) string { return string(rune('a' + (v&0xf))) }
	same := func(a, b int) bool { return a == b }

	mapGen := gen.SliceOf(gen.IntRange(0, 255)).Map(func(vs []int) map[string]int {
		m := make(map[string]int)
		for _, v := range vs {
			m[key(v)] = v
		}
		return m
	})

	properties.Property("applying the diff reproduces the fetched set", prop.ForAll(
		func(existing, fetched map[string]int) bool {
			inserts, updates, deletes := diffMaps(existing, fetched, same)
			result := apply(existing, inserts, updates, deletes, key)

			if len(result) != len(fetched) {
				return false
			}
			for k, v := range fetched {
				if result[k] != v {
					return false
				}
			}
			return true
		},
		mapGen,
		mapGen,
	))

	properties.Property("rediffing after apply yields no changes", prop.ForAll(
		func(existing, fetched map[string]int) bool {
			inserts, updates, deletes := diffMaps(existing, fetched, same)
			result := apply(existing, inserts, updates, deletes, key)

			inserts, updates, deletes = diffMaps(result, fetched, same)
			return len(inserts) == 0 && len(updates) == 0 && len(deletes) == 0
		},
		mapGen,
		mapGen,
	))

	properties.Property("change counts are bounded by the inputs", prop.ForAll(
		func(existing, fetched map[string]int) bool {
			inserts, updates, deletes := diffMaps(existing, fetched, same)
			return len(inserts)+len(updates) <= len(fetched) && len(deletes) <= len(existing)
		},
		mapGen,
		mapGen,
	))

	properties.TestingRun(t)
}
