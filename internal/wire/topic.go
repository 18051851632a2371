package wire

// SendMessageDest is the only destination clients may publish to. Routing
// to recipient topics happens server-side.
const SendMessageDest = "chat.sendMessage"

// ChatTopic is where a user's direct messages (and echoes of their own
// sends) are pushed.
func ChatTopic(userID string) string { return "topic.chat." + userID }

// NotifyTopic is where a user's notifications are pushed.
func NotifyTopic(userID string) string { return "topic.notify." + userID }

// NotifyCountTopic is where authoritative unread-notification counts are
// pushed.
func NotifyCountTopic(userID string) string { return "topic.notify.count." + userID }

// UserTopics lists every topic a user's sessions may subscribe to. Topic
// names derive from the authenticated user id, never from client input.
func UserTopics(userID string) []string {
	return []string{
		ChatTopic(userID),
		NotifyTopic(userID),
		NotifyCountTopic(userID),
	}
}
