// Package engine implements the background synchronization engine: the
// symbol and price synchronizers and the update scheduler that drives them.
package engine

// diffMaps computes the three-way diff between a persisted keyed collection
// and a freshly fetched one. Keys only in fetched become inserts, keys in
// both whose values differ become updates (carrying the fetched value), and
// keys only in existing become deletes. Reconciling twice against the same
// fetched set yields an empty diff the second time.
func diffMaps[K comparable, V any](existing, fetched map[K]V, same func(a, b V) bool) (inserts, updates []V, deletes []K) {
	for key, fetchedValue := range fetched {
		existingValue, ok := existing[key]
		switch {
		case !ok:
			inserts = append(inserts, fetchedValue)
		case !same(existingValue, fetchedValue):
			updates = append(updates, fetchedValue)
		}
	}

	for key := range existing {
		if _, ok := fetched[key]; !ok {
			deletes = append(deletes, key)
		}
	}

	return inserts, updates, deletes
}
