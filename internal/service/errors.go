package service

import (
	"errors"
	"fmt"

	"github.com/vedran77/pulsechat/pkg/validator"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrEmptyText          = errors.New("message text cannot be empty")
	ErrCannotMessageSelf  = errors.New("cannot message yourself")
	ErrInvalidEmoji       = errors.New("malformed emoji")
	ErrMessageNotFound    = errors.New("message not found")
	ErrReplyNotFound      = errors.New("replied message not found in this thread")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotOwner           = errors.New("only the message sender can perform this action")
	ErrNotParticipant     = errors.New("you are not a participant of this thread")
	ErrEditWindowExpired  = errors.New("edit window has expired")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError carries per-field messages and matches ErrValidation.
type ValidationError struct {
	Fields validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Fields.Error()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
