//file: internal/broker/envelope.go

package broker

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"filter-router/internal/dispatch"
	"filter-router/internal/filter"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Envelope is the wire form of a published message on the NATS bus subject
type Envelope struct {
	ID         string         `json:"id"`
	Topic      string         `json:"topic"`
	Message    string         `json:"message"`
	Properties map[string]any `json:"properties,omitempty"`
}

// NewEnvelope stamps a fresh message id. filter.Value properties are
// flattened to their Go values and floats keep a fraction or exponent on the
// wire, so 5.0 decodes as a Float rather than an Int.
func NewEnvelope(topic, message string, properties map[string]any) Envelope {
	var props map[string]any
	if len(properties) > 0 {
		props = make(map[string]any, len(properties))
		for k, v := range properties {
			if fv, ok := v.(filter.Value); ok {
				v = fv.Interface()
			}
			switch f := v.(type) {
			case float32:
				v = floatNumber(float64(f))
			case float64:
				v = floatNumber(f)
			}
			props[k] = v
		}
	}
	return Envelope{
		ID:         uuid.NewString(),
		Topic:      topic,
		Message:    message,
		Properties: props,
	}
}

// floatNumber renders f as a JSON number that always reads back as a float.
// NaN and infinities have no JSON form and are left for Encode to reject.
func floatNumber(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return json.Number(s)
}

func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses an envelope, keeping numeric properties exact so
// integral values stay integers.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Topic == "" {
		return Envelope{}, errors.New("envelope has no topic")
	}
	return env, nil
}

// ToMessage converts the envelope into a dispatchable message
func (e Envelope) ToMessage() dispatch.Message {
	msg := dispatch.NewMessage(e.Topic, e.Message, e.Properties)
	msg.ID = e.ID
	return msg
}
