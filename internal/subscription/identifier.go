//file: internal/subscription/identifier.go

package subscription

import (
	"errors"
	"regexp"
	"strings"

	"filter-router/internal/filter"
)

// ErrTopicRequired is returned when an identifier is built without a topic
var ErrTopicRequired = errors.New("subscription topic is required")

// TopicField is the context key carrying a message's topic
const TopicField = "Topic"

var selectorPattern = regexp.MustCompile(`^Topic = '(?P<topic>\S+)'( and)?( ?)(?P<filter>.*)$`)

// Identifier names a logical subscription: a topic plus an optional filter.
// Identity is the derived selector string.
type Identifier struct {
	topic    string
	filter   string
	selector string
}

// New builds an identifier. A blank filter matches every message of the
// topic; any other filter text is kept verbatim in the selector.
func New(topic, filterText string) (Identifier, error) {
	if topic == "" {
		return Identifier{}, ErrTopicRequired
	}
	if strings.TrimSpace(filterText) == "" {
		filterText = ""
	}

	selector := TopicField + " = '" + topic + "'"
	if filterText != "" {
		selector += " and " + filterText
	}
	return Identifier{topic: topic, filter: filterText, selector: selector}, nil
}

// Parse rebuilds an identifier from a selector. Round-trips are stable for
// topics without whitespace or quotes. Text that is not a selector yields an
// identifier with an empty topic.
func Parse(selector string) Identifier {
	m := selectorPattern.FindStringSubmatch(selector)
	if m == nil {
		return Identifier{selector: selector}
	}
	return Identifier{
		topic:    m[selectorPattern.SubexpIndex("topic")],
		filter:   m[selectorPattern.SubexpIndex("filter")],
		selector: selector,
	}
}

func (id Identifier) Topic() string    { return id.topic }
func (id Identifier) Filter() string   { return id.filter }
func (id Identifier) Selector() string { return id.selector }
func (id Identifier) String() string   { return id.selector }

// Key is the registry key for the identifier
func (id Identifier) Key() string { return id.selector }

// IsZero reports whether id was never built
func (id Identifier) IsZero() bool { return id.selector == "" }

func (id Identifier) Equal(other Identifier) bool {
	return id.selector == other.selector
}

// Scope joins the compiled filter with the topic test as a single AND node.
// The filter is compiled on its own, so its text cannot regroup around the
// topic test. A nil or empty filter yields the topic test alone.
func (id Identifier) Scope(expr filter.Expression) (filter.Expression, error) {
	topicTest, err := filter.NewLogical(filter.OpEqual,
		filter.NewVariable(TopicField),
		filter.NewConstant(filter.String(id.topic)))
	if err != nil {
		return nil, err
	}
	if l, ok := expr.(*filter.Logical); expr == nil || (ok && (l == nil || l.IsEmpty())) {
		return topicTest, nil
	}
	return filter.NewLogical(filter.OpAnd, topicTest, expr)
}
