package message

// Level classifies the unconsumed backlog for operational dashboards.
type Level string

// Possible backlog levels.
const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// ChannelBacklog is the unconsumed message count for one channel.
type ChannelBacklog struct {
	Channel string `json:"channel"`
	Count   int64  `json:"count"`
}

// Stats aggregates consumption statistics for the whole bus.
type Stats struct {
	Total      int64            `json:"total"`
	Unconsumed int64            `json:"unconsumed"`
	ByChannel  []ChannelBacklog `json:"by_channel"`
	Level      Level            `json:"level"`
}

// LevelFor derives the backlog level from the unconsumed count and the two
// configured thresholds, warnAt < criticalAt.
func LevelFor(unconsumed, warnAt, criticalAt int64) Level {
	switch {
	case unconsumed >= criticalAt:
		return LevelCritical
	case unconsumed >= warnAt:
		return LevelWarning
	default:
		return LevelOK
	}
}
