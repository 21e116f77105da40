package transcript

import (
	"database/sql"

	"github.com/pitabwire/frame/data"
)

// ListenSession is the stored record of one listening session.
type ListenSession struct {
	data.BaseModel

	Transport  string       `gorm:"type:varchar(20);not null"  json:"transport"`
	Backend    string       `gorm:"type:varchar(50);not null"  json:"backend"`
	Profile    string       `gorm:"type:varchar(100)"          json:"profile,omitempty"`
	Language   string       `gorm:"type:varchar(20)"           json:"language,omitempty"`
	State      string       `gorm:"type:varchar(20);not null;index:idx_ls_state" json:"state"`
	StoppedAt  sql.NullTime `json:"stopped_at,omitempty"`
	Utterances int          `gorm:"default:0"                  json:"utterances"`
	Transcript string       `gorm:"type:text"                  json:"transcript"`
}

func (ListenSession) TableName() string { return "listen_sessions" }

// Utterance is one finalized transcript segment within a session.
type Utterance struct {
	data.BaseModel

	SessionID  string  `gorm:"type:varchar(50);not null;index:idx_ut_session" json:"session_id"`
	Seq        int     `gorm:"not null"                   json:"seq"`
	Text       string  `gorm:"type:text;not null"         json:"text"`
	Confidence float32 `gorm:"default:0"                  json:"confidence"`
	Language   string  `gorm:"type:varchar(20)"           json:"language,omitempty"`
	Samples    int     `gorm:"default:0"                  json:"samples"`
	DurationMs int64   `gorm:"default:0"                  json:"duration_ms"`
}

func (Utterance) TableName() string { return "utterances" }
