// Package broadcast fans alert and decision events out to live subscribers
// over WebSocket and server-sent events. Delivery is best effort: a
// subscriber that cannot keep up misses events rather than slowing the
// publisher.
package broadcast

import (
	"time"

	"github.com/banshee-data/trackscan/internal/db"
)

const (
	TopicAlerts  = "alerts"
	TopicTamping = "tamping"

	// TopicAll subscribes to every topic. Events are never published to it.
	TopicAll = "*"
)

// ValidTopic reports whether topic names a publishable stream.
func ValidTopic(topic string) bool {
	return topic == TopicAlerts || topic == TopicTamping
}

// Event is anything the hub can route.
type Event interface {
	Topic() string
}

// AlertEvent announces one alert entry appended at pt.
type AlertEvent struct {
	Type      string   `json:"type"`
	Pt        float64  `json:"pt"`
	Alert     db.Entry `json:"alert"`
	Timestamp string   `json:"timestamp"`
}

func NewAlertEvent(pt float64, alert db.Entry, at time.Time) AlertEvent {
	return AlertEvent{Type: "alert", Pt: pt, Alert: alert, Timestamp: FormatTimestamp(at)}
}

func (AlertEvent) Topic() string { return TopicAlerts }

// DecisionEvent announces a logged tamping decision.
type DecisionEvent struct {
	Type      string         `json:"type"`
	SampleID  string         `json:"sampleId"`
	Pt        float64        `json:"pt"`
	Decision  db.PointStatus `json:"decision"`
	Score     float64        `json:"score"`
	Fallback  bool           `json:"fallback"`
	Timestamp string         `json:"timestamp"`
}

func (DecisionEvent) Topic() string { return TopicTamping }

// greeting is the first message on every WebSocket connection.
type greeting struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

var greetingMessages = map[string]string{
	TopicAlerts:  "Subscribed to alert stream",
	TopicTamping: "Subscribed to tamping decision stream",
}

// FormatTimestamp renders t as UTC RFC 3339 with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
