package metrics

import "sort"

// StatusBucket is the number of entries of one kind that carried a status.
type StatusBucket struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// FlattenStatusBuckets converts a nested kind->status map into sorted rows.
// Rows are sorted by descending count, then by kind/status for stability.
func FlattenStatusBuckets(buckets map[string]map[string]int) []StatusBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0)
	for kind, statuses := range buckets {
		for status, count := range statuses {
			rows = append(rows, StatusBucket{Kind: kind, Status: status, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Kind == rows[j].Kind {
				return rows[i].Status < rows[j].Status
			}
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
