package events

// EventType defines the type of event
type EventType string

const (
	EventTypeAccountMerged     EventType = "account.merged"
	EventTypeAccountDeleted    EventType = "account.deleted"
	EventTypeClustersRefreshed EventType = "clusters.refreshed"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"
