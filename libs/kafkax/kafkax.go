package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Meta identifies a message for dedupe and routing. EventID falls back to
// the message key and EventType to the topic, so messages published without
// the headers still dedupe.
type Meta struct {
	EventID   string
	EventType string
}

// MessageMeta reads the event_id and event_type headers off a message.
func MessageMeta(msg kafka.Message) Meta {
	m := Meta{
		EventID:   headerValue(msg.Headers, "event_id"),
		EventType: headerValue(msg.Headers, "event_type"),
	}
	if m.EventID == "" {
		m.EventID = string(msg.Key)
	}
	if m.EventType == "" {
		m.EventType = msg.Topic
	}
	return m
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// BrokerList parses a comma-separated broker string. Empty entries are
// dropped so a trailing comma in config is harmless.
func BrokerList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
