package rtc

// Wire messages of the SFU signaling channel. Every frame is a JSON object
// with a "type" field.

type envelope struct {
	Type string `json:"type"`
}

type joinMsg struct {
	Type  string `json:"type"`
	Room  string `json:"room"`
	Name  string `json:"name,omitempty"`
	Token string `json:"token,omitempty"`
}

type memberDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type roomStateMsg struct {
	Type    string      `json:"type"`
	Room    string      `json:"room"`
	Members []memberDTO `json:"members"`
	Count   int         `json:"count"`
}

type memberMsg struct {
	Type string    `json:"type"`
	User memberDTO `json:"user"`
}

type sdpMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateMsg struct {
	Type          string `json:"type"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// muteMsg announces a mute change; User is set on frames from the SFU.
type muteMsg struct {
	Type  string `json:"type"`
	User  string `json:"user,omitempty"`
	Kind  string `json:"kind"`
	Muted bool   `json:"muted"`
}

type errorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
