package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingHandler struct {
	mu   sync.Mutex
	seen map[int64][]string
	done chan struct{}
	want int
}

func (h *recordingHandler) Consume(_ context.Context, ev domain.ClaimEvent) domain.IssueResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[ev.CampaignID] = append(h.seen[ev.CampaignID], ev.UserID)
	h.want--
	if h.want == 0 {
		close(h.done)
	}
	return domain.IssueResult{Outcome: domain.IssueIssued, Attempts: 1}
}

func TestDirectQueue_PerCampaignOrder(t *testing.T) {
	q := NewDirectQueue(4, 100, testLogger)
	h := &recordingHandler{seen: map[int64][]string{}, done: make(chan struct{}), want: 60}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	want := map[int64][]string{}
	for i := 0; i < 20; i++ {
		for id := int64(1); id <= 3; id++ {
			user := "user" + string(rune('a'+i))
			require.NoError(t, q.PublishClaim(ctx, domain.ClaimEvent{CampaignID: id, UserID: user}))
			want[id] = append(want[id], user)
		}
	}

	stopped := make(chan struct{})
	go func() {
		q.Run(ctx, h)
		close(stopped)
	}()

	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("events not drained")
	}
	cancel()
	<-stopped

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, want, h.seen)
}

func TestDirectQueue_FullLane(t *testing.T) {
	q := NewDirectQueue(1, 1, testLogger)
	ctx := context.Background()

	require.NoError(t, q.PublishClaim(ctx, domain.ClaimEvent{CampaignID: 1, UserID: "a"}))
	assert.ErrorIs(t, q.PublishClaim(ctx, domain.ClaimEvent{CampaignID: 1, UserID: "b"}), ErrQueueFull)
}

func TestLogDeadLetter(t *testing.T) {
	d := LogDeadLetter{Logger: testLogger}
	assert.NoError(t, d.DeadLetter(context.Background(), domain.ClaimEvent{CampaignID: 1}, 3, assert.AnError))
}
