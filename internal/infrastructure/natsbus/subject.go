package natsbus

import "strings"

// ToSubject converts an MQTT-style topic or filter to a NATS subject.
func ToSubject(topic string) string {
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		switch level {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		}
	}
	return strings.Join(levels, ".")
}

// FromSubject converts a concrete NATS subject back to an MQTT-style topic.
func FromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
