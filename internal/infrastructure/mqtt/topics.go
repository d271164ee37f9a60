package mqtt

import "fmt"

// Topic prefixes for module traffic.
//
// Each module instance owns a pair of point-to-point topics, one per
// direction. A single topic per direction keeps broker delivery in publish
// order, which the call/response framing relies on.
const (
	// TopicPrefixModule is the base for all per-instance module topics.
	TopicPrefixModule = "graylogic/module"

	// TopicPrefixSystem is the base for connection status topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for modkit MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.ToModule("generic-1") // graylogic/module/generic-1/module
type Topics struct{}

// ToModule returns the topic the host publishes calls and responses on
// for the given instance.
//
// Example: graylogic/module/generic-1/module
func (Topics) ToModule(instanceID string) string {
	return fmt.Sprintf("%s/%s/module", TopicPrefixModule, instanceID)
}

// ToHost returns the topic the module publishes calls and responses on.
//
// Example: graylogic/module/generic-1/host
func (Topics) ToHost(instanceID string) string {
	return fmt.Sprintf("%s/%s/host", TopicPrefixModule, instanceID)
}

// ClientStatus returns the retained online/offline topic for an MQTT client.
//
// Example: graylogic/system/status/modkit-counter
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixSystem, clientID)
}
