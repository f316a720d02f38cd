package kafka

import (
	"github.com/cespare/xxhash/v2"
	"github.com/twmb/franz-go/pkg/kgo"
)

// laneOf maps a record key to one of n lanes. Equal keys share a lane, so
// events of one campaign are handled in order.
func laneOf(key []byte, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64(key) % uint64(n))
}

func splitLanes(records []*kgo.Record, n int) [][]*kgo.Record {
	lanes := make([][]*kgo.Record, max(n, 1))
	for _, r := range records {
		i := laneOf(r.Key, n)
		lanes[i] = append(lanes[i], r)
	}
	return lanes
}
