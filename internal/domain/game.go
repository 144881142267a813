package domain

import "time"

// GameRecord is a finished game as archived. Result is from the human's
// side: win, loss or draw.
type GameRecord struct {
	ID           int64
	SessionUUID  string
	Difficulty   int
	Result       string
	ResultMethod string
	MovesUCI     []string
	MovesSAN     []string
	PGN          string
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
}

// LiveSession is the resumable state of a game in progress.
type LiveSession struct {
	SessionUUID string    `json:"session_uuid"`
	Difficulty  int       `json:"difficulty"`
	Moves       []string  `json:"moves"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
