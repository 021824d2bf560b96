package ingest

import "slices"

// DiffTags compares the wanted tag ids with the stored ones.
// additions = next - stored, removals = stored - next; both sorted.
func DiffTags(next, stored []int64) (additions, removals []int64) {
	want := make(map[int64]struct{}, len(next))
	for _, id := range next {
		want[id] = struct{}{}
	}
	have := make(map[int64]struct{}, len(stored))
	for _, id := range stored {
		have[id] = struct{}{}
	}

	for id := range want {
		if _, ok := have[id]; !ok {
			additions = append(additions, id)
		}
	}
	for id := range have {
		if _, ok := want[id]; !ok {
			removals = append(removals, id)
		}
	}

	slices.Sort(additions)
	slices.Sort(removals)
	return additions, removals
}

// uniqueNames drops blanks and duplicates, keeping first-seen order
func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
