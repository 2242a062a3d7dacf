package domain

import (
	"strings"
	"time"
)

// Reaction is how the sender responded to the previous reply.
type Reaction string

const (
	ReactionQuestioned     Reaction = "questioned"
	ReactionNeedsExpansion Reaction = "needs_expansion"
	ReactionAcknowledged   Reaction = "acknowledged"
	ReactionNone           Reaction = "none"
)

// ProvidedTopic records one piece of information already given to the
// sender, so later replies do not repeat it verbatim.
type ProvidedTopic struct {
	Topic      string    `json:"topic"`
	ProvidedAt time.Time `json:"provided_at"`
	Reaction   Reaction  `json:"reaction,omitempty"`
}

// ThreadMemory is the persistent per-thread conversation state.
// Version implements optimistic locking: every save must carry the
// version it read, and the store rejects stale writes.
type ThreadMemory struct {
	ThreadID       string          `json:"thread_id"`
	SenderEmail    string          `json:"sender_email"`
	Summary        string          `json:"summary"`
	ProvidedTopics []ProvidedTopic `json:"provided_topics"`
	LastCategory   Category        `json:"last_category,omitempty"`
	LastLanguage   Language        `json:"last_language,omitempty"`
	LastReplyAt    time.Time       `json:"last_reply_at"`
	MessageCount   int             `json:"message_count"`
	Version        int64           `json:"version"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasTopic reports whether the topic was already provided.
func (m *ThreadMemory) HasTopic(topic string) bool {
	topic = strings.ToLower(strings.TrimSpace(topic))
	for _, t := range m.ProvidedTopics {
		if strings.ToLower(t.Topic) == topic {
			return true
		}
	}
	return false
}

// AddTopic appends a provided topic, bounded by max. When the bound is
// reached the oldest entries are dropped first.
func (m *ThreadMemory) AddTopic(topic string, at time.Time, max int) {
	if topic == "" || m.HasTopic(topic) {
		return
	}
	m.ProvidedTopics = append(m.ProvidedTopics, ProvidedTopic{Topic: topic, ProvidedAt: at})
	if max > 0 && len(m.ProvidedTopics) > max {
		m.ProvidedTopics = m.ProvidedTopics[len(m.ProvidedTopics)-max:]
	}
}

// MarkReaction sets the sender's reaction on the most recent topic.
func (m *ThreadMemory) MarkReaction(r Reaction) {
	if len(m.ProvidedTopics) == 0 || r == ReactionNone {
		return
	}
	m.ProvidedTopics[len(m.ProvidedTopics)-1].Reaction = r
}
