// ABOUTME: Sendspin wire protocol message type definitions
// ABOUTME: Defines the tagged-union envelope and per-tag payload structs
package protocol

// Message is the top-level tagged-union wrapper for every protocol
// message: {"type": <tag>, "payload": <body>}.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Tag constants for the message types this server emits or consumes.
const (
	TagClientHello         = "client/hello"
	TagServerHello         = "server/hello"
	TagClientTime          = "client/time"
	TagServerTime          = "server/time"
	TagStreamStart         = "stream/start"
	TagStreamClear         = "stream/clear"
	TagStreamEnd           = "stream/end"
	TagStreamRequestFormat = "stream/request-format"
	TagServerCommand       = "server/command"
	TagServerState         = "server/state"
	TagClientState         = "client/state"
	TagGroupUpdate         = "group/update"
	TagClientGoodbye       = "client/goodbye"
	TagServerError         = "server/error"
)

// DeviceInfo identifies the hardware/software of a connecting client.
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// AudioFormat describes one entry in a player's supported_formats list.
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// PlayerV1Support describes player@v1 capabilities advertised by a client.
type PlayerV1Support struct {
	SupportedFormats  []AudioFormat `json:"supported_formats"`
	BufferCapacity    int           `json:"buffer_capacity"`
	SupportedCommands []string      `json:"supported_commands"`
}

// MetadataV1Support describes metadata@v1 capabilities advertised by a client.
type MetadataV1Support struct {
	SupportedFields []string `json:"supported_fields,omitempty"`
}

// ClientHello is the first message a client must send.
type ClientHello struct {
	ClientID            string             `json:"client_id"`
	Name                string             `json:"name"`
	Version             int                `json:"version"`
	SupportedRoles      []string           `json:"supported_roles"`
	DeviceInfo          *DeviceInfo        `json:"device_info,omitempty"`
	PlayerV1Support     *PlayerV1Support   `json:"player@v1_support,omitempty"`
	MetadataV1Support   *MetadataV1Support `json:"metadata@v1_support,omitempty"`
}

// ServerHello answers client/hello with the negotiated active roles.
type ServerHello struct {
	ServerID         string   `json:"server_id"`
	Name             string   `json:"name"`
	Version          int      `json:"version"`
	ActiveRoles      []string `json:"active_roles"`
	ConnectionReason string   `json:"connection_reason,omitempty"`
}

// ClientTime carries the client's transmit timestamp for clock sync.
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
}

// ServerTime answers client/time with the server's receive/transmit clocks.
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}

// StreamStartPlayer describes the negotiated audio format for a session.
type StreamStartPlayer struct {
	Codec       string `json:"codec"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	BitDepth    int    `json:"bit_depth"`
	CodecHeader string `json:"codec_header,omitempty"`
}

// StreamStart notifies a player session of the stream's format.
type StreamStart struct {
	Player *StreamStartPlayer `json:"player,omitempty"`
}

// StreamClear instructs players to drop buffered audio (e.g. on seek).
type StreamClear struct {
	Roles []string `json:"roles,omitempty"`
}

// StreamEnd ends the stream for the given roles (all roles if omitted).
type StreamEnd struct {
	Roles []string `json:"roles,omitempty"`
}

// StreamRequestFormat is a client request for a different audio format.
// The core logs and acknowledges this but does not re-encode; see
// spec.md §9 Open Question 1.
type StreamRequestFormatPlayer struct {
	Codec      *string `json:"codec,omitempty"`
	SampleRate *int    `json:"sample_rate,omitempty"`
	Channels   *int    `json:"channels,omitempty"`
	BitDepth   *int    `json:"bit_depth,omitempty"`
}

type StreamRequestFormat struct {
	Player *StreamRequestFormatPlayer `json:"player,omitempty"`
}

// PlayerCommand is a server-issued control command, canonical nested form
// (spec.md §9 Open Question 4: nested {player:{...}} wins over the flat
// shape seen elsewhere in the source).
type PlayerCommand struct {
	Command string `json:"command"`
	Volume  *int   `json:"volume,omitempty"`
	Mute    *bool  `json:"mute,omitempty"`
}

type ServerCommand struct {
	Player *PlayerCommand `json:"player,omitempty"`
}

// ProgressState reports playback position for the metadata role.
type ProgressState struct {
	TrackProgress int `json:"track_progress"`
	TrackDuration int `json:"track_duration"`
	PlaybackSpeed int `json:"playback_speed"`
}

// MetadataState carries track metadata for the metadata role.
type MetadataState struct {
	Timestamp   int64          `json:"timestamp"`
	Title       *string        `json:"title,omitempty"`
	Artist      *string        `json:"artist,omitempty"`
	AlbumArtist *string        `json:"album_artist,omitempty"`
	Album       *string        `json:"album,omitempty"`
	ArtworkURL  *string        `json:"artwork_url,omitempty"`
	Year        *int           `json:"year,omitempty"`
	Track       *int           `json:"track,omitempty"`
	Progress    *ProgressState `json:"progress,omitempty"`
	Repeat      *string        `json:"repeat,omitempty"`
	Shuffle     *bool          `json:"shuffle,omitempty"`
}

// ControllerState reports group-wide volume/mute for the controller role.
type ControllerState struct {
	SupportedCommands []string `json:"supported_commands"`
	Volume            int      `json:"volume"`
	Muted             bool     `json:"muted"`
}

type ServerState struct {
	Metadata   *MetadataState   `json:"metadata,omitempty"`
	Controller *ControllerState `json:"controller,omitempty"`
}

// PlayerState reports a player session's own state.
type PlayerState struct {
	State  string `json:"state"`
	Volume *int   `json:"volume,omitempty"`
	Muted  *bool  `json:"muted,omitempty"`
}

type ClientState struct {
	Player *PlayerState `json:"player,omitempty"`
}

// GroupUpdate notifies a session of its group's playback state/identity.
type GroupUpdate struct {
	PlaybackState *string `json:"playback_state,omitempty"`
	GroupID       string  `json:"group_id"`
	GroupName     string  `json:"group_name"`
}

// ClientGoodbye announces a graceful disconnect and its reason.
type ClientGoodbye struct {
	Reason string `json:"reason"`
}

// ServerError reports a rejected connection, e.g. a duplicate client id
// (see SPEC_FULL.md supplemented feature #5).
type ServerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const (
	GoodbyeAnotherServer = "another_server"
	GoodbyeShutdown      = "shutdown"
	GoodbyeRestart       = "restart"
	GoodbyeUserRequest   = "user_request"
)
