package usecase

import "errors"

var (
	ErrInvalidAddressing    = errors.New("invalid message addressing")
	ErrEmptyMessage         = errors.New("message needs text or an attachment")
	ErrInvalidAttachment    = errors.New("invalid attachment")
	ErrPayloadTooLarge      = errors.New("message text too long")
	ErrGroupNotFound        = errors.New("group not found")
	ErrStoreUnavailable     = errors.New("message store unavailable")
	ErrPresenceLookupFailed = errors.New("presence lookup failed")
	ErrNotParticipant       = errors.New("you are not a participant of this conversation")
	ErrSenderMismatch       = errors.New("sender does not match the identified user")
	ErrNotIdentified        = errors.New("connection is not identified")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidAddressing, "InvalidAddressing"},
	{ErrEmptyMessage, "EmptyMessage"},
	{ErrInvalidAttachment, "InvalidAttachment"},
	{ErrPayloadTooLarge, "PayloadTooLarge"},
	{ErrGroupNotFound, "GroupNotFound"},
	{ErrStoreUnavailable, "StoreUnavailable"},
	{ErrPresenceLookupFailed, "PresenceLookupFailed"},
	{ErrNotParticipant, "NotParticipant"},
	{ErrSenderMismatch, "SenderMismatch"},
	{ErrNotIdentified, "NotIdentified"},
}

// ErrorCode returns the wire code of a usecase error, or "Internal".
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "Internal"
}
