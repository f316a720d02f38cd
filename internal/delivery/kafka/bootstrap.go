package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/azizikri/coupon-issuer/internal/config"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// EnsureTopics creates the claim and dead-letter topics when missing.
func EnsureTopics(ctx context.Context, client *kgo.Client, cfg *config.Config, logger *slog.Logger) error {
	adm := kadm.NewClient(client)

	topics := map[string]int{
		TopicClaimEvents:           cfg.TopicPartitions(),
		DLQTopic(TopicClaimEvents): cfg.DLQPartitions(),
	}

	for topic, partitions := range topics {
		resp, err := adm.CreateTopics(ctx, int32(partitions), cfg.ReplicationFactor(), nil, topic)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
		for _, detail := range resp {
			if detail.Err != nil && !errors.Is(detail.Err, kerr.TopicAlreadyExists) {
				return fmt.Errorf("create topic %s: %w", detail.Topic, detail.Err)
			}
		}
	}

	logger.Info("kafka topics ensured", "topic", TopicClaimEvents)
	return nil
}
