package metrics

import (
	"reflect"
	"testing"
)

func TestFlattenStatusBuckets(t *testing.T) {
	tests := []struct {
		name    string
		buckets map[string]map[string]int
		want    []StatusBucket
	}{
		{
			name:    "nil buckets",
			buckets: nil,
			want:    nil,
		},
		{
			name:    "empty buckets",
			buckets: map[string]map[string]int{},
			want:    nil,
		},
		{
			name: "single bucket",
			buckets: map[string]map[string]int{
				"http": {"200": 10},
			},
			want: []StatusBucket{
				{Kind: "http", Status: "200", Count: 10},
			},
		},
		{
			name: "sorted by count desc then kind and status",
			buckets: map[string]map[string]int{
				"http": {
					"200": 10,
					"500": 2,
				},
				"resource": {
					"200":     10,
					"unknown": 2,
				},
			},
			want: []StatusBucket{
				{Kind: "http", Status: "200", Count: 10},
				{Kind: "resource", Status: "200", Count: 10},
				{Kind: "http", Status: "500", Count: 2},
				{Kind: "resource", Status: "unknown", Count: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlattenStatusBuckets(tt.buckets)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FlattenStatusBuckets() = %v, want %v", got, tt.want)
			}
		})
	}
}
