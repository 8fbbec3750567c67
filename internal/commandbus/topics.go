// Package commandbus wires the shared+node-specific command consumer
// (§4.K), the session-control force-disconnect publisher/consumer
// (§4.L), and the node directory (§4.M) on top of internal/bus.
package commandbus

import "fmt"

// TopicCommandRequests is the shared inbound command topic every node
// subscribes to under the same consumer group, so exactly one node in
// the cluster handles each message (§4.K).
const TopicCommandRequests = "cpms.command.requests"

// ConsumerGroupBase names the shared consumer group for
// TopicCommandRequests; a node's private topic uses
// ConsumerGroupBase + "-" + nodeId so it never shares work with
// another node's subscription to the same private topic.
const ConsumerGroupBase = "cpms-gateway-commands"

// NodeCommandTopic is the node-private command topic a command is
// republished to once the owning node is known (§4.K step 3).
func NodeCommandTopic(nodeID string) string {
	return fmt.Sprintf("cpms.command.requests.node.%s", nodeID)
}

// SessionControlTopic is the node-private topic ForceDisconnect
// messages are published to (§4.L).
func SessionControlTopic(nodeID string) string {
	return fmt.Sprintf("ocpp.session.control.node.%s", nodeID)
}
