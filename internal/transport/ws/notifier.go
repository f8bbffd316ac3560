package ws

import (
	"github.com/google/uuid"
	"github.com/vedran77/pulsechat/internal/domain"
	"github.com/vedran77/pulsechat/internal/service"
)

var _ service.Notifier = (*HubNotifier)(nil)

// HubNotifier implements service.Notifier on top of the Hub. New messages go
// to the recipient's room; later changes go to both participants so every
// device of either side converges.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) NotifyNewMessage(msg *domain.Message) {
	n.hub.PushToUser(msg.ToUser, EventNewMessage, MessagePayload{Message: *msg})
}

func (n *HubNotifier) NotifyEditedMessage(msg *domain.Message) {
	n.both(msg.FromUser, msg.ToUser, EventMessageEdited, MessagePayload{Message: *msg})
}

func (n *HubNotifier) NotifyDeletedMessage(msg *domain.Message) {
	n.both(msg.FromUser, msg.ToUser, EventMessageDeleted, MessageDeletedPayload{
		ID:       msg.ID,
		FromUser: msg.FromUser,
		ToUser:   msg.ToUser,
	})
}

func (n *HubNotifier) NotifyReaction(msg *domain.Message) {
	n.both(msg.FromUser, msg.ToUser, EventMessageReacted, MessagePayload{Message: *msg})
}

func (n *HubNotifier) NotifyThreadCleared(userID, otherUserID uuid.UUID, deleted int64) {
	n.both(userID, otherUserID, EventThreadCleared, ThreadClearedPayload{
		ClearedBy:    userID,
		OtherUser:    otherUserID,
		DeletedCount: deleted,
	})
}

func (n *HubNotifier) NotifySeen(readerID, senderID uuid.UUID, count int64) {
	n.both(readerID, senderID, EventMessagesSeen, MessagesSeenPayload{
		ReaderID: readerID,
		SenderID: senderID,
		Count:    count,
	})
}

func (n *HubNotifier) both(a, b uuid.UUID, eventType string, payload any) {
	n.hub.PushToUser(a, eventType, payload)
	n.hub.PushToUser(b, eventType, payload)
}
