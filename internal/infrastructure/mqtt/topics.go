package mqtt

import "fmt"

// TopicPrefixSystem is the base for Link's own presence topics. Device
// traffic lives under devicebus.TopicPrefix.
const TopicPrefixSystem = "graylink/system"

// Topics provides builders for Link's system topics.
type Topics struct{}

// SystemStatus returns the retained presence topic for a Link instance.
// Link publishes online on connect, offline on graceful close, and the
// broker publishes the LWT offline message on a crash.
//
// Example: graylink/system/link-001/status
func (Topics) SystemStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixSystem, clientID)
}

// AllSystemStatus returns the wildcard for every Link presence topic.
//
// Example: graylink/system/+/status
func (Topics) AllSystemStatus() string {
	return TopicPrefixSystem + "/+/status"
}
