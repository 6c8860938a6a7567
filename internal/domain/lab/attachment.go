package lab

import "sort"

// MatchTarget holds the keys an attachment is matched against. Either key may
// be empty; an empty key never matches.
type MatchTarget struct {
	TestID    string
	LoincCode string
}

// TargetOf builds the match target for a view row.
func TargetOf(t TestOrder) MatchTarget {
	return MatchTarget{TestID: t.Key.TestID, LoincCode: t.LoincCode}
}

// Matches reports whether a belongs to the target: test id OR loinc code.
func (m MatchTarget) Matches(a Attachment) bool {
	if m.TestID != "" && a.TestID == m.TestID {
		return true
	}
	return m.LoincCode != "" && a.LoincCode == m.LoincCode
}

// ReconcileAttachments merges attachment lists given in priority order
// (freshly uploaded, completed endpoint, direct endpoint). It keeps the
// attachments matching target, drops later duplicates of an id, and sorts the
// survivors newest first. Equal timestamps keep their input order.
// Attachments without an id are deduplicated by file URL; with neither they
// are all kept.
func ReconcileAttachments(sources [][]Attachment, target MatchTarget) []Attachment {
	seen := make(map[string]bool)
	out := make([]Attachment, 0)
	for _, src := range sources {
		for _, a := range src {
			if !target.Matches(a) {
				continue
			}
			if key := dedupKey(a); key != "" {
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AddedOn.After(out[j].AddedOn)
	})
	return out
}

func dedupKey(a Attachment) string {
	if a.ID != "" {
		return "id:" + a.ID
	}
	if a.FileURL != "" {
		return "url:" + a.FileURL
	}
	return ""
}
