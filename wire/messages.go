package wire

// Fixed-point scale applied to accuracy and rating values, which are
// real numbers in the domain model but are carried on the wire as
// uint32 so the struct-tag codec (integers, strings, slices, structs
// only) can encode them without a floating-point extension.
const FixedPointScale = 1_000_000

// Hello is the first message a client sends after connecting. It
// carries the protocol version the client implements; a mismatch ends
// the handshake with UNSUPPORTED_VERSION before authentication is
// attempted.
type Hello struct {
	ProtocolVersion uint16
}

// ProtocolVersion is the version this server implements.
const ProtocolVersion uint16 = 1

// Authenticate carries the opaque bearer token presented at handshake.
type Authenticate struct {
	Token string `wire:"len_prefix=uint16"`
}

// AuthenticateResult is the server's reply to Authenticate.
type AuthenticateResult struct {
	OK          uint8
	UserID      uint32
	DisplayName string `wire:"len_prefix=uint16"`
	AvatarURL   string `wire:"len_prefix=uint16"`
}

// Ping is sent by the server on the keepalive interval.
type Ping struct{}

// Pong is the client's keepalive reply.
type Pong struct{}

// CreateRoom requests a new room with the sender as host.
type CreateRoom struct {
	Name     string `wire:"len_prefix=uint16"`
	Capacity uint8
}

// JoinRoom requests membership in an existing room.
type JoinRoom struct {
	RoomID string `wire:"len_prefix=uint16"`
}

// LeaveRoom requests the sender leave its current room.
type LeaveRoom struct{}

// ChartDescriptor is the immutable metadata of a selected song.
type ChartDescriptor struct {
	ChartID         string `wire:"len_prefix=uint16"`
	Name            string `wire:"len_prefix=uint16"`
	Level           string `wire:"len_prefix=uint16"`
	Difficulty      string `wire:"len_prefix=uint16"`
	Charter         string `wire:"len_prefix=uint16"`
	Composer        string `wire:"len_prefix=uint16"`
	IllustrationURL string `wire:"len_prefix=uint16"`
	FileURL         string `wire:"len_prefix=uint16"`
	Rating          uint32
	RatingCount     uint32
	UploaderSummary string `wire:"len_prefix=uint16"`
}

// MemberState is one member's projection within a RoomStateUpdate.
type MemberState struct {
	UserID      uint32
	DisplayName string `wire:"len_prefix=uint16"`
	AvatarURL   string `wire:"len_prefix=uint16"`
	Ready       uint8
	HasScore    uint8
	Score       uint32
	Accuracy    uint32
}

// RoomStateUpdate is the authoritative room snapshot broadcast to
// members after every mutation.
type RoomStateUpdate struct {
	RoomID     string `wire:"len_prefix=uint16"`
	Name       string `wire:"len_prefix=uint16"`
	HostUserID uint32
	State      uint8
	Capacity   uint8
	Locked     uint8
	CycleMode  uint8
	Members    []MemberState    `wire:"count_prefix=uint16"`
	Chart      *ChartDescriptor `wire:"optional"`
}

// SelectChart is sent by the host to pick the chart for the next game.
type SelectChart struct {
	Chart ChartDescriptor
}

// Ready marks the sender ready in WaitingForReady.
type Ready struct{}

// CancelReady withdraws a prior Ready.
type CancelReady struct{}

// StartPlaying is broadcast when the room transitions to Playing.
type StartPlaying struct {
	Chart ChartDescriptor
}

// SubmitScore reports a completed playthrough.
type SubmitScore struct {
	Score    uint32
	Accuracy uint32
	MaxCombo uint32
	Perfect  uint32
	Good     uint32
	Bad      uint32
	Miss     uint32
}

// ScoreResult is one member's outcome within GameEnd.
type ScoreResult struct {
	UserID   uint32
	Aborted  uint8
	Score    uint32
	Accuracy uint32
	MaxCombo uint32
	Perfect  uint32
	Good     uint32
	Bad      uint32
	Miss     uint32
}

// GameEnd is broadcast when a room transitions to Results, ranked by
// score descending, ties broken by accuracy then submission time.
type GameEnd struct {
	Results []ScoreResult `wire:"count_prefix=uint16"`
}

// Kicked tells a client it has been forcibly removed from its room or
// disconnected, with a human-readable reason.
type Kicked struct {
	Reason string `wire:"len_prefix=uint16"`
}

// ServerMessage is an operator-originated broadcast message, unrelated
// to room state.
type ServerMessage struct {
	Text string `wire:"len_prefix=uint16"`
}

// Error carries a stable numeric code (see errors.go) and a
// human-readable message.
type Error struct {
	Code    uint16
	Message string `wire:"len_prefix=uint16"`
}
