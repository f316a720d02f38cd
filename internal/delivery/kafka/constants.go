package kafka

const (
	TopicClaimEvents = "coupon.claim.events"
	TopicDLQSuffix   = ".dlq"

	SchemaVersion = 1

	ErrorHeaderKey    = "x-error"
	AttemptsHeaderKey = "x-attempts"
)

// DLQTopic is where events of topic go once they cannot be processed.
func DLQTopic(topic string) string {
	return topic + TopicDLQSuffix
}
