package state

import "time"

// ScoreRecord is one member's recorded outcome for a single room game
// instance: either a submitted score or an abort. One per (room, user,
// game instance).
type ScoreRecord struct {
	UserID      uint32
	Aborted     bool
	Score       uint32 // 0..1,000,000
	Accuracy    uint32 // fixed point, accuracy*wire.FixedPointScale, 0..1,000,000
	MaxCombo    uint32
	Perfect     uint32
	Good        uint32
	Bad         uint32
	Miss        uint32
	SubmittedAt time.Time
}

// RankResults orders records by score descending; ties are broken by
// accuracy descending, then by submission time ascending. Aborted
// records always rank after every submitted record.
func RankResults(records []ScoreRecord) []ScoreRecord {
	out := make([]ScoreRecord, len(records))
	copy(out, records)

	less := func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Aborted != b.Aborted {
			return !a.Aborted
		}
		if a.Aborted && b.Aborted {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Accuracy != b.Accuracy {
			return a.Accuracy > b.Accuracy
		}
		return a.SubmittedAt.Before(b.SubmittedAt)
	}

	// insertion sort: result sets are small (room capacity), and this
	// keeps the comparator above the only place ranking rules live.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
