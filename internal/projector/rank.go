package projector

import (
	"sort"

	"github.com/liveplay/engine/models"
)

// Rank orders entries by (score desc, tieBreakTime asc) and assigns dense
// ranks 1..N. It is always a full resort — incremental patching can drift
// from a rebuild, a resort cannot. Participant id is the final key so equal
// rows still order deterministically.
func Rank(entries []models.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].TieBreakMs != entries[j].TieBreakMs {
			return entries[i].TieBreakMs < entries[j].TieBreakMs
		}
		return entries[i].ParticipantId < entries[j].ParticipantId
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
}
