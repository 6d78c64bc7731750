package envelope

// Control and file-transfer envelope types handled by the session layer.
const (
	TypeUserHello = "USER_HELLO"
	TypeHeartbeat = "HEARTBEAT"
	TypeFileStart = "FILE_START"
	TypeFileChunk = "FILE_CHUNK"
	TypeFileEnd   = "FILE_END"
)

// Application envelope types. The session layer forwards these to the
// inbound handler without interpreting them.
const (
	TypeServerHelloJoin       = "SERVER_HELLO_JOIN"
	TypeServerWelcome         = "SERVER_WELCOME"
	TypeServerAnnounce        = "SERVER_ANNOUNCE"
	TypeServerDeliver         = "SERVER_DELIVER"
	TypeUserAdvertise         = "USER_ADVERTISE"
	TypeUserRemove            = "USER_REMOVE"
	TypeUserDeliver           = "USER_DELIVER"
	TypeMsgDirect             = "MSG_DIRECT"
	TypeMsgPublicChannel      = "MSG_PUBLIC_CHANNEL"
	TypePublicChannelAdd      = "PUBLIC_CHANNEL_ADD"
	TypePublicChannelUpdated  = "PUBLIC_CHANNEL_UPDATED"
	TypePublicChannelKeyShare = "PUBLIC_CHANNEL_KEY_SHARE"
	TypeAck                   = "ACK"
	TypeError                 = "ERROR"
)

const (
	// Broadcast is the recipient that addresses the public channel.
	Broadcast = "*"
	// ServerAddr is the recipient of session control envelopes.
	ServerAddr = "server"
)

// Transfer modes carried in FILE_START.
const (
	ModePublic = "public"
	ModeDM     = "dm"
)

var knownTypes = map[string]struct{}{
	TypeUserHello: {}, TypeHeartbeat: {}, TypeFileStart: {}, TypeFileChunk: {}, TypeFileEnd: {},
	TypeServerHelloJoin: {}, TypeServerWelcome: {}, TypeServerAnnounce: {}, TypeServerDeliver: {},
	TypeUserAdvertise: {}, TypeUserRemove: {}, TypeUserDeliver: {},
	TypeMsgDirect: {}, TypeMsgPublicChannel: {},
	TypePublicChannelAdd: {}, TypePublicChannelUpdated: {}, TypePublicChannelKeyShare: {},
	TypeAck: {}, TypeError: {},
}

// IsKnownType reports whether t is one of the protocol's envelope types.
// Unknown types are still valid on the wire; callers decide what to do.
func IsKnownType(t string) bool {
	_, ok := knownTypes[t]
	return ok
}

// IsBroadcast reports whether to addresses the public channel.
func IsBroadcast(to string) bool {
	return to == Broadcast
}

// ModeFor returns the FILE_START mode for a recipient.
func ModeFor(to string) string {
	if IsBroadcast(to) {
		return ModePublic
	}
	return ModeDM
}

// HelloPayload is the USER_HELLO payload. The keys are placeholders until a
// key-exchange collaborator supplies real ones.
type HelloPayload struct {
	Client    string `json:"client"`
	PubKey    string `json:"pubkey"`
	EncPubKey string `json:"enc_pubkey"`
}

// HeartbeatPayload is the empty HEARTBEAT payload.
type HeartbeatPayload struct{}

// FileStartPayload announces a transfer.
type FileStartPayload struct {
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
	Mode   string `json:"mode"`
}

// FileChunkPayload carries one base64-encoded slice of the file. The field
// is named ciphertext whether or not a sealer encrypted it.
type FileChunkPayload struct {
	FileID     string `json:"file_id"`
	Index      int    `json:"index"`
	Ciphertext string `json:"ciphertext"`
}

// FileEndPayload repeats the transfer metadata for late joiners.
type FileEndPayload struct {
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
}

// ErrorPayload is the payload of ERROR envelopes sent by the server.
type ErrorPayload struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}
