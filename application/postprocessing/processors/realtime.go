package processors

// Realtime notification types.
const (
	notificationAdded   = "ADDED"
	notificationEdited  = "EDITED"
	notificationDeleted = "DELETED"
)

// Realtime mutations. Variables carry {"input": {...}} with the recipient
// in input.userId.
const (
	QueryTriggerCardNotification = `mutation TriggerCardNotification($input: CardNotificationInput!) {
  triggerCardNotification(input: $input) { userId type cardId title action }
}`
	QueryTriggerChatMessageNotification = `mutation TriggerChatMessageNotification($input: ChatMessageNotificationInput!) {
  triggerChatMessageNotification(input: $input) { userId type messageId chatId authorUserId text }
}`
)

func notificationInput(input map[string]any) map[string]any {
	return map[string]any{"input": input}
}
