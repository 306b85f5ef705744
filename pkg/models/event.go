package models

// RelatedEvent is a piece of surrounding conversation context delivered
// alongside a mention: the tweet it quoted, the tweet it replied to, etc.
type RelatedEvent struct {
	RelationKind string `json:"relation_kind"`
	AuthorID     string `json:"author_id"`
	Text         string `json:"text"`
}

// Event is one inbound mention, normalized by the ingress layer.
// Immutable once received.
type Event struct {
	ID             string         `json:"id"`
	AuthorID       string         `json:"author_id"`
	Text           string         `json:"text"`
	ConversationID string         `json:"conversation_id,omitempty"`
	RelatedEvents  []RelatedEvent `json:"related_events,omitempty"`
}

// Conversation returns the thread this event belongs to. Events without
// an explicit conversation id start their own thread.
func (e *Event) Conversation() string {
	if e.ConversationID != "" {
		return e.ConversationID
	}
	return e.ID
}

// Valid reports whether the event carries the fields the bot needs.
func (e *Event) Valid() bool {
	return e != nil && e.ID != "" && e.AuthorID != ""
}

// ReplyTaskType is the fixed type tag on every persisted reply task.
const ReplyTaskType = "tweet_reply"

// ReplyTask is the durable output of a decided reply. At most one task
// may exist per conversation; the persistence layer enforces this.
type ReplyTask struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	ParentEventID  string `json:"parent_event_id"`
	Content        string `json:"content"`
}
