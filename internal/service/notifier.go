package service

import (
	"github.com/google/uuid"
	"github.com/vedran77/pulsechat/internal/domain"
)

// Notifier pushes message lifecycle events out of band. Implementations must
// not block the caller and must swallow delivery failures.
type Notifier interface {
	NotifyNewMessage(msg *domain.Message)
	NotifyEditedMessage(msg *domain.Message)
	NotifyDeletedMessage(msg *domain.Message)
	NotifyReaction(msg *domain.Message)
	NotifyThreadCleared(userID, otherUserID uuid.UUID, deleted int64)
	NotifySeen(readerID, senderID uuid.UUID, count int64)
}

// MultiNotifier fans every event out to each wrapped notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyNewMessage(msg *domain.Message) {
	for _, n := range m {
		n.NotifyNewMessage(msg)
	}
}

func (m MultiNotifier) NotifyEditedMessage(msg *domain.Message) {
	for _, n := range m {
		n.NotifyEditedMessage(msg)
	}
}

func (m MultiNotifier) NotifyDeletedMessage(msg *domain.Message) {
	for _, n := range m {
		n.NotifyDeletedMessage(msg)
	}
}

func (m MultiNotifier) NotifyReaction(msg *domain.Message) {
	for _, n := range m {
		n.NotifyReaction(msg)
	}
}

func (m MultiNotifier) NotifyThreadCleared(userID, otherUserID uuid.UUID, deleted int64) {
	for _, n := range m {
		n.NotifyThreadCleared(userID, otherUserID, deleted)
	}
}

func (m MultiNotifier) NotifySeen(readerID, senderID uuid.UUID, count int64) {
	for _, n := range m {
		n.NotifySeen(readerID, senderID, count)
	}
}
