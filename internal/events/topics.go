package events

// Topic constants for domain events emitted by the revenue pipeline.
const (
	TopicRevenueIngested       = "revenue.ingested"
	TopicRevenueSplitsRecorded = "revenue.splits_recorded"
	TopicRevenueSplitsFailed   = "revenue.splits_failed"
	TopicRevenueStatusChanged  = "revenue.status_changed"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicRevenueIngested,
		TopicRevenueSplitsRecorded,
		TopicRevenueSplitsFailed,
		TopicRevenueStatusChanged,
	}
}
