package domain

// ErrorCode is the numeric code attached to server error frames and rejected acks.
type ErrorCode int

const (
	CodeInvalidPassword ErrorCode = 4001
	CodeNotRoomMember   ErrorCode = 4003
	CodeRoomNotFound    ErrorCode = 4004
	CodeRosterFull      ErrorCode = 4009
)

func (c ErrorCode) String() string {
	switch c {
	case CodeInvalidPassword:
		return "invalid-password"
	case CodeNotRoomMember:
		return "not-a-room-member"
	case CodeRoomNotFound:
		return "room-not-found"
	case CodeRosterFull:
		return "roster-full"
	case 0:
		return "none"
	default:
		return "unknown"
	}
}

// ServerError is an error reported by the remote authority.
type ServerError struct {
	Code    ErrorCode
	Message string
}

func (e ServerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.String()
}
