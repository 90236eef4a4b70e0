package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Snapshot is the persisted form of the store. The JSON layout is stable:
//
//	{"watching": [..], "last_seen": {"<chat id>": "<identity>"}, "cookie_expired_notified": [..]}
type Snapshot struct {
	Watching       []int64           `json:"watching"`
	LastSeen       map[string]string `json:"last_seen"`
	ExpiryNotified []int64           `json:"cookie_expired_notified"`
}

// Encode renders s with sorted, de-duplicated id lists.
func (s Snapshot) Encode() ([]byte, error) {
	out := Snapshot{
		Watching:       sortedUnique(s.Watching),
		LastSeen:       s.LastSeen,
		ExpiryNotified: sortedUnique(s.ExpiryNotified),
	}
	if out.LastSeen == nil {
		out.LastSeen = map[string]string{}
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecodeSnapshot parses b. Errors wrap ErrCorrupt.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for k := range s.LastSeen {
		if _, err := strconv.ParseInt(k, 10, 64); err != nil {
			return Snapshot{}, fmt.Errorf("%w: last_seen key %q is not a chat id", ErrCorrupt, k)
		}
	}
	return s, nil
}

func sortedUnique(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
