// Package diff computes what a subscriber has not seen yet.
package diff

import "wqbot/internal/announce"

// Since takes a newest-first batch and the subscriber's last-seen identity.
// It returns the unseen items oldest-first and the identity of batch[0].
//
// When seen is false the subscriber has never been baselined: nothing is
// returned so a first subscription does not replay the backlog. When lastSeen
// is not found in the batch every item is treated as new.
func Since(batch []announce.Announcement, lastSeen string, seen bool) ([]announce.Announcement, string) {
	if len(batch) == 0 {
		return nil, ""
	}
	newest := batch[0].ID
	if !seen {
		return nil, newest
	}

	var fresh []announce.Announcement
	for _, a := range batch {
		if a.ID == lastSeen {
			break
		}
		fresh = append(fresh, a)
	}
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}
	return fresh, newest
}
