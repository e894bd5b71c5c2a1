package transport

import "fmt"

// Server-side destination scheme.
//
// Subscribe destinations (server -> client):
//
//	groups.{id}.messages   message events for one group
//	groups.{id}.typing     typing events for one group
//	presence               presence events, connection-scoped
//	errors.{clientID}      personal error queue, connection-scoped
//
// Publish destinations (client -> server):
//
//	groups.{id}.send        create/edit/delete a message
//	groups.{id}.typing.set  set own typing state
//	presence.set            set own presence status

// GroupMessagesTopic returns the subscribe destination carrying message
// events for one group.
func GroupMessagesTopic(groupID int64) string {
	return fmt.Sprintf("groups.%d.messages", groupID)
}

// GroupTypingTopic returns the subscribe destination carrying typing
// events for one group.
func GroupTypingTopic(groupID int64) string {
	return fmt.Sprintf("groups.%d.typing", groupID)
}

// PresenceTopic returns the connection-scoped presence destination.
func PresenceTopic() string {
	return "presence"
}

// ErrorsTopic returns the personal error queue destination.
func ErrorsTopic(clientID string) string {
	return "errors." + clientID
}

// GroupSendTopic returns the publish destination for message writes.
func GroupSendTopic(groupID int64) string {
	return fmt.Sprintf("groups.%d.send", groupID)
}

// GroupTypingSetTopic returns the publish destination for own typing state.
func GroupTypingSetTopic(groupID int64) string {
	return fmt.Sprintf("groups.%d.typing.set", groupID)
}

// PresenceSetTopic returns the publish destination for own presence.
func PresenceSetTopic() string {
	return "presence.set"
}
