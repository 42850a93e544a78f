package wire

// Numeric error codes carried on the wire in an Error frame. Values are
// stable once assigned; new codes are appended, never renumbered.
const (
	CodeUnauthorized       uint16 = 1
	CodeAuthTimeout        uint16 = 2
	CodeBanned             uint16 = 3
	CodeRoomNotFound       uint16 = 4
	CodeRoomLocked         uint16 = 5
	CodeRoomFull           uint16 = 6
	CodeRoomBlacklisted    uint16 = 7
	CodeRoomWrongState     uint16 = 8
	CodeNotHost            uint16 = 9
	CodeNotInRoom          uint16 = 10
	CodeAlreadyInRoom      uint16 = 11
	CodeProtocolViolation  uint16 = 12
	CodeInternal           uint16 = 13
	CodeUnsupportedVersion uint16 = 14
)

// codeNames gives the stable string form of each code, used in log
// lines and in ProtocolError's Error() string.
var codeNames = map[uint16]string{
	CodeUnauthorized:       "UNAUTHORIZED",
	CodeAuthTimeout:        "AUTH_TIMEOUT",
	CodeBanned:             "BANNED",
	CodeRoomNotFound:       "ROOM_NOT_FOUND",
	CodeRoomLocked:         "ROOM_LOCKED",
	CodeRoomFull:           "ROOM_FULL",
	CodeRoomBlacklisted:    "ROOM_BLACKLISTED",
	CodeRoomWrongState:     "ROOM_WRONG_STATE",
	CodeNotHost:            "NOT_HOST",
	CodeNotInRoom:          "NOT_IN_ROOM",
	CodeAlreadyInRoom:      "ALREADY_IN_ROOM",
	CodeProtocolViolation:  "PROTOCOL_VIOLATION",
	CodeInternal:           "INTERNAL",
	CodeUnsupportedVersion: "UNSUPPORTED_VERSION",
}

// CodeName returns the stable string form of a code, or "UNKNOWN" if
// the code is not in the taxonomy.
func CodeName(code uint16) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}

// Fatal codes end the session after the Error frame is flushed:
// PROTOCOL_VIOLATION, INTERNAL, BANNED, UNSUPPORTED_VERSION.
func IsFatal(code uint16) bool {
	switch code {
	case CodeProtocolViolation, CodeInternal, CodeBanned, CodeUnsupportedVersion:
		return true
	default:
		return false
	}
}

// ProtocolError is a domain error carrying a stable wire code. Domain
// packages return these (or errors wrapping one, checked with
// errors.As) so the dispatcher can translate them into an Error frame
// without string matching.
type ProtocolError struct {
	Code    uint16
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return CodeName(e.Code) + ": " + e.Message
	}
	return CodeName(e.Code)
}

// NewProtocolError constructs a ProtocolError with the given code and
// message.
func NewProtocolError(code uint16, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}
