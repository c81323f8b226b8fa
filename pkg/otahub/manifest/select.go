package manifest

import "time"

// SelectLatest returns the newest entry built strictly after installed.
// Among equal build times the greater numeric version code wins, then the
// lexicographically smaller filename, so the result never depends on the
// order of entries.
func SelectLatest(entries []Entry, installed time.Time) (Entry, bool) {
	cutoff := installed.Unix()

	var best Entry
	found := false
	for _, e := range entries {
		if int64(e.BuildTime) <= cutoff {
			continue
		}
		if !found || newer(e, best) {
			best = e
			found = true
		}
	}
	return best, found
}

func newer(a, b Entry) bool {
	if a.BuildTime != b.BuildTime {
		return a.BuildTime > b.BuildTime
	}
	if av, bv := a.versionNumber(), b.versionNumber(); av != bv {
		return av > bv
	}
	return a.Filename < b.Filename
}

// Find returns the entry with the given filename.
func Find(entries []Entry, filename string) (Entry, bool) {
	for _, e := range entries {
		if e.Filename == filename {
			return e, true
		}
	}
	return Entry{}, false
}
