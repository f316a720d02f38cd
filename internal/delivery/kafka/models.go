package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
)

var ErrMalformedEvent = errors.New("malformed claim event")

// ClaimPayload is the wire form of a claim event.
type ClaimPayload struct {
	SchemaVersion int       `json:"schema_version"`
	RequestID     string    `json:"request_id"`
	CampaignID    int64     `json:"campaign_id"`
	UserID        string    `json:"user_id"`
	AdmittedAt    time.Time `json:"admitted_at"`
}

func EncodeClaim(ev domain.ClaimEvent) ([]byte, error) {
	return json.Marshal(ClaimPayload{
		SchemaVersion: SchemaVersion,
		RequestID:     ev.RequestID,
		CampaignID:    ev.CampaignID,
		UserID:        ev.UserID,
		AdmittedAt:    ev.AdmittedAt.UTC(),
	})
}

func DecodeClaim(value []byte) (domain.ClaimEvent, error) {
	var p ClaimPayload
	if err := json.Unmarshal(value, &p); err != nil {
		return domain.ClaimEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch {
	case p.SchemaVersion != SchemaVersion:
		return domain.ClaimEvent{}, fmt.Errorf("%w: unsupported schema version %d", ErrMalformedEvent, p.SchemaVersion)
	case p.RequestID == "" || p.UserID == "" || p.CampaignID <= 0:
		return domain.ClaimEvent{}, fmt.Errorf("%w: missing fields", ErrMalformedEvent)
	}
	return domain.ClaimEvent{
		RequestID:  p.RequestID,
		CampaignID: p.CampaignID,
		UserID:     p.UserID,
		AdmittedAt: p.AdmittedAt,
	}, nil
}

// claimKey keeps every event of a campaign on one partition.
func claimKey(campaignID int64) []byte {
	return strconv.AppendInt(nil, campaignID, 10)
}
