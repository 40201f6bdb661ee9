package domain

type VoiceChannel string

const (
	VoicePublic VoiceChannel = "public"
	VoiceTeam1  VoiceChannel = "team1"
	VoiceTeam2  VoiceChannel = "team2"
)

var VoiceChannels = []VoiceChannel{VoicePublic, VoiceTeam1, VoiceTeam2}

func (c VoiceChannel) Valid() bool {
	switch c {
	case VoicePublic, VoiceTeam1, VoiceTeam2:
		return true
	}
	return false
}

// TeamID maps a team channel to its team id; public maps to 0.
func (c VoiceChannel) TeamID() int {
	switch c {
	case VoiceTeam1:
		return Team1
	case VoiceTeam2:
		return Team2
	}
	return 0
}

// ChannelForTeam is the inverse of TeamID.
func ChannelForTeam(teamID int) VoiceChannel {
	switch teamID {
	case Team1:
		return VoiceTeam1
	case Team2:
		return VoiceTeam2
	}
	return VoicePublic
}

type VoiceMember struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Muted    bool   `json:"muted"`
}
