package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher produces claim events and their dead letters. Produce is
// synchronous: a claim is only accepted once the broker acknowledged it.
type Publisher struct {
	client *kgo.Client
	topic  string
}

func NewPublisher(client *kgo.Client) *Publisher {
	return &Publisher{client: client, topic: TopicClaimEvents}
}

func (p *Publisher) PublishClaim(ctx context.Context, ev domain.ClaimEvent) error {
	payload, err := EncodeClaim(ev)
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   claimKey(ev.CampaignID),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce claim %s: %w", ev.RequestID, err)
	}
	return nil
}

func (p *Publisher) DeadLetter(ctx context.Context, ev domain.ClaimEvent, attempts int, reason error) error {
	payload, err := EncodeClaim(ev)
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}
	return p.deadLetter(ctx, claimKey(ev.CampaignID), payload, attempts, reason)
}

// DeadLetterRecord parks a record that could not even be decoded.
func (p *Publisher) DeadLetterRecord(ctx context.Context, record *kgo.Record, reason error) error {
	return p.deadLetter(ctx, record.Key, record.Value, 0, reason)
}

func (p *Publisher) deadLetter(ctx context.Context, key, value []byte, attempts int, reason error) error {
	record := &kgo.Record{
		Topic: DLQTopic(p.topic),
		Key:   key,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(reason.Error())},
			{Key: AttemptsHeaderKey, Value: []byte(strconv.Itoa(attempts))},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce dead letter: %w", err)
	}
	return nil
}
