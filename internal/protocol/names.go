package protocol

// Transport-level frames.
const (
	EventReady = "ready"
	EventAck   = "ack"
	EventError = "error"
)

// Inbound push events.
const (
	EventRoomJoined         = "roomJoined"
	EventRoomLeft           = "roomLeft"
	EventRoleChanged        = "roleChanged"
	EventRoomDetail         = "roomDetail"
	EventRoomStatusUpdate   = "roomStatusUpdate"
	EventPlayerJoined       = "player.joined"
	EventPlayerLeft         = "player.left"
	EventSpectatorJoined    = "spectator.joined"
	EventSpectatorLeft      = "spectator.left"
	EventSpectatorToPlayer  = "spectator.moveToPlayer"
	EventPlayerToSpectator  = "player.moveToSpectator"
	EventGameStarted        = "game.started"
	EventPlayerStatusUpdate = "playerStatusUpdate"
	EventTeamUpdate         = "teamUpdate"
	EventNewMessage         = "new_message"
	EventVoiceStateUpdate   = "voiceStateUpdate"
	EventVoiceMuted         = "voiceMuted"
	EventVoiceData          = "voiceData"
)

// Outbound intents.
const (
	IntentJoinRoom        = "joinRoom"
	IntentLeaveRoom       = "leaveRoom"
	IntentJoinAsPlayer    = "joinAsPlayer"
	IntentJoinAsSpectator = "joinAsSpectator"
	IntentKickPlayer      = "kickPlayer"
	IntentSendMessage     = "sendMessage"
	IntentCaptainPick     = "captain.selectPlayer"
	IntentCaptainPickSide = "captain.selectSide"
	IntentJoinVoice       = "joinVoiceChannel"
	IntentLeaveVoice      = "leaveVoiceChannel"
	IntentSetVoiceMute    = "setVoiceMute"
	IntentVoiceData       = "voiceData"
	IntentGetRoomDetail   = "getRoomDetail"
	IntentSetReady        = "setReady"
)
