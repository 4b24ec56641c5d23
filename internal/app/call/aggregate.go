package call

import (
	"sort"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
)

// aggregate builds the full participant-stream list from a transport snapshot.
// The local participant always comes first, with a placeholder stream when it
// has no video yet. Remote participants need a live, unmuted video track.
func aggregate(self domain.UserID, parts []core.Participant) []domain.ParticipantStream {
	local := domain.ParticipantStream{UserID: self, IsLocal: true}
	remotes := make([]domain.ParticipantStream, 0, len(parts))

	for _, p := range parts {
		if p.Local {
			if p.Identity != "" {
				local.UserID = p.Identity
			}
			local.Stream = localVideo(p.Tracks)
			continue
		}
		if h, ok := remoteVideo(p.Tracks); ok {
			remotes = append(remotes, domain.ParticipantStream{UserID: p.Identity, Stream: h})
		}
	}
	sort.Slice(remotes, func(i, j int) bool { return remotes[i].UserID < remotes[j].UserID })

	return append([]domain.ParticipantStream{local}, remotes...)
}

// localVideo keeps the camera stream even while muted.
func localVideo(tracks []core.Track) domain.StreamHandle {
	for _, t := range tracks {
		if t.Kind == core.TrackVideo && t.Stream != "" {
			return t.Stream
		}
	}
	return ""
}

func remoteVideo(tracks []core.Track) (domain.StreamHandle, bool) {
	for _, t := range tracks {
		if t.Kind == core.TrackVideo && t.Subscribed && !t.Muted && t.Stream != "" {
			return t.Stream, true
		}
	}
	return "", false
}
