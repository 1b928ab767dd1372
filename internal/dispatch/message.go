//file: internal/dispatch/message.go

package dispatch

import (
	"filter-router/internal/filter"
	"filter-router/internal/subscription"
)

// Callback receives a matching message. topic and filter identify the
// subscription that matched, payload is the message body.
type Callback func(topic, filter, payload string) error

// Message is one published payload with the context filters are evaluated against
type Message struct {
	ID      string
	Topic   string
	Body    string
	Context filter.Context
}

// NewMessage builds a message whose context holds the properties plus the topic
func NewMessage(topic, body string, properties map[string]any) Message {
	ctx := filter.ContextOf(properties)
	ctx[subscription.TopicField] = filter.String(topic)
	return Message{Topic: topic, Body: body, Context: ctx}
}

// Entry pairs a subscription with the callback that receives its matches
type Entry struct {
	ID       subscription.Identifier
	Callback Callback
}
