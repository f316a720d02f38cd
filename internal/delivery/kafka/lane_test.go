package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestLaneOf_Stable(t *testing.T) {
	for id := int64(1); id < 100; id++ {
		key := claimKey(id)
		lane := laneOf(key, 8)
		assert.GreaterOrEqual(t, lane, 0)
		assert.Less(t, lane, 8)
		assert.Equal(t, lane, laneOf(claimKey(id), 8))
	}
	assert.Equal(t, 0, laneOf([]byte("x"), 1))
}

func TestSplitLanes_KeepsKeyOrder(t *testing.T) {
	var records []*kgo.Record
	for i := 0; i < 30; i++ {
		records = append(records, &kgo.Record{Key: claimKey(int64(i % 3)), Offset: int64(i)})
	}

	lanes := splitLanes(records, 4)
	assert.Len(t, lanes, 4)

	total := 0
	for _, lane := range lanes {
		total += len(lane)
		last := map[string]int64{}
		for _, r := range lane {
			if prev, ok := last[string(r.Key)]; ok {
				assert.Greater(t, r.Offset, prev)
			}
			last[string(r.Key)] = r.Offset
		}
	}
	assert.Equal(t, 30, total)
}
