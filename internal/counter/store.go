// Package counter keeps per-campaign remaining stock and per-user claim
// markers in Redis. Every mutation is a Lua script, so a reservation is a
// single indivisible step no matter how many processes admit concurrently.
package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/redis/go-redis/v9"
)

type Store struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Store {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "coupon"
	}
	return &Store{client: client, prefix: prefix}
}

// keys returns stock, claims and meta keys. The hash tag keeps all three on
// one cluster slot so the scripts may touch them together.
func (s *Store) keys(campaignID int64) []string {
	tag := fmt.Sprintf("%s:{%d}", s.prefix, campaignID)
	return []string{tag + ":stock", tag + ":claims", tag + ":meta"}
}

func (s *Store) Reserve(ctx context.Context, campaignID int64, userID, requestID string, at time.Time) (domain.ReserveResult, error) {
	code, err := reserveScript.Run(ctx, s.client, s.keys(campaignID), userID, requestID, at.UnixMilli()).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve campaign=%d: %w", campaignID, err)
	}

	switch code {
	case codeAccepted:
		return domain.ReserveAccepted, nil
	case codeReplayed:
		return domain.ReserveReplayed, nil
	case codeSoldOut:
		return domain.ReserveSoldOut, nil
	case codeDuplicate:
		return domain.ReserveDuplicate, nil
	case codeInactive:
		return domain.ReserveInactive, nil
	case codeClosed:
		return domain.ReserveClosed, nil
	default:
		return 0, fmt.Errorf("reserve campaign=%d: unexpected reply %d", campaignID, code)
	}
}

// Release undoes a reservation: the marker is cleared and one unit goes back
// to stock. It is a no-op when requestID no longer owns the marker, which
// makes repeated compensation harmless. An empty requestID releases any
// marker the user holds.
func (s *Store) Release(ctx context.Context, campaignID int64, userID, requestID string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, s.keys(campaignID), userID, requestID).Int64()
	if err != nil {
		return false, fmt.Errorf("release campaign=%d user=%s: %w", campaignID, userID, err)
	}
	return n == 1, nil
}

// Holds reports whether userID currently holds a reservation made under requestID.
func (s *Store) Holds(ctx context.Context, campaignID int64, userID, requestID string) (bool, error) {
	m, ok, err := s.Marker(ctx, campaignID, userID)
	if err != nil || !ok {
		return false, err
	}
	return m.RequestID == requestID, nil
}

func (s *Store) Marker(ctx context.Context, campaignID int64, userID string) (domain.Marker, bool, error) {
	raw, err := s.client.HGet(ctx, s.keys(campaignID)[1], userID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Marker{}, false, nil
	}
	if err != nil {
		return domain.Marker{}, false, fmt.Errorf("read marker campaign=%d user=%s: %w", campaignID, userID, err)
	}
	m, err := parseMarker(raw)
	if err != nil {
		return domain.Marker{}, false, err
	}
	return m, true, nil
}

// Initialize creates the counter for an activated campaign, or rebuilds
// whichever of its keys went missing. Keys expire at expireAt. It reports
// false when nothing had to be written.
func (s *Store) Initialize(ctx context.Context, c domain.Campaign, expireAt time.Time) (bool, error) {
	n, err := initializeScript.Run(ctx, s.client, s.keys(c.ID),
		c.TotalStock, c.StartsAt.UnixMilli(), c.EndsAt.UnixMilli(), expireAt.UnixMilli(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("initialize campaign=%d: %w", c.ID, err)
	}
	return n == 1, nil
}

// Snapshot reads remaining stock, total and every marker in one atomic step.
func (s *Store) Snapshot(ctx context.Context, campaignID int64) (domain.CounterSnapshot, error) {
	raw, err := snapshotScript.Run(ctx, s.client, s.keys(campaignID)).Slice()
	if err != nil {
		return domain.CounterSnapshot{}, fmt.Errorf("snapshot campaign=%d: %w", campaignID, err)
	}
	if len(raw) < 2 || len(raw)%2 != 0 {
		return domain.CounterSnapshot{}, fmt.Errorf("snapshot campaign=%d: unexpected reply length %d", campaignID, len(raw))
	}

	remaining, ok := raw[0].(int64)
	if !ok {
		return domain.CounterSnapshot{}, fmt.Errorf("snapshot campaign=%d: unexpected remaining type %T", campaignID, raw[0])
	}
	total, ok := raw[1].(int64)
	if !ok {
		return domain.CounterSnapshot{}, fmt.Errorf("snapshot campaign=%d: unexpected total type %T", campaignID, raw[1])
	}

	snap := domain.CounterSnapshot{
		CampaignID: campaignID,
		Present:    remaining >= 0 && total >= 0,
		Remaining:  int(remaining),
		Total:      int(total),
		Markers:    make(map[string]domain.Marker, (len(raw)-2)/2),
	}
	for i := 2; i < len(raw); i += 2 {
		user, _ := raw[i].(string)
		value, _ := raw[i+1].(string)
		m, err := parseMarker(value)
		if err != nil {
			return domain.CounterSnapshot{}, err
		}
		snap.Markers[user] = m
	}
	return snap, nil
}

// Adjust moves remaining stock by delta, clamped to [0, total], and returns
// the new value. Concurrent reservations are not disturbed because the
// change is relative.
func (s *Store) Adjust(ctx context.Context, campaignID int64, delta int) (int, error) {
	keys := s.keys(campaignID)
	n, err := adjustScript.Run(ctx, s.client, []string{keys[0], keys[2]}, delta).Int64()
	if err != nil {
		return 0, fmt.Errorf("adjust campaign=%d: %w", campaignID, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("adjust campaign=%d: counter missing", campaignID)
	}
	return int(n), nil
}

// RestoreMarker sets a marker only if the user has none.
func (s *Store) RestoreMarker(ctx context.Context, campaignID int64, userID string, m domain.Marker) (bool, error) {
	keys := s.keys(campaignID)
	n, err := restoreScript.Run(ctx, s.client, []string{keys[1], keys[2]}, userID, formatMarker(m)).Int64()
	if err != nil {
		return false, fmt.Errorf("restore marker campaign=%d user=%s: %w", campaignID, userID, err)
	}
	return n == 1, nil
}

func formatMarker(m domain.Marker) string {
	return m.RequestID + "|" + strconv.FormatInt(m.AdmittedAt.UnixMilli(), 10)
}

func parseMarker(raw string) (domain.Marker, error) {
	requestID, at, ok := strings.Cut(raw, "|")
	if !ok {
		return domain.Marker{}, fmt.Errorf("malformed claim marker %q", raw)
	}
	ms, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return domain.Marker{}, fmt.Errorf("malformed claim marker %q: %w", raw, err)
	}
	return domain.Marker{RequestID: requestID, AdmittedAt: time.UnixMilli(ms)}, nil
}
