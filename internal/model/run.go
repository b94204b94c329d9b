package model

import (
	"time"
)

// ScriptRun is one script executed against one appliance.
type ScriptRun struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	BatchID       string    `json:"batch_id" gorm:"type:varchar(64);index"`
	Script        string    `json:"script" gorm:"type:varchar(64);not null;index"`
	DeviceHost    string    `json:"device_host" gorm:"type:varchar(128);not null"`
	DevicePort    int       `json:"device_port" gorm:"not null;default:22"`
	Username      string    `json:"username" gorm:"type:varchar(64);not null"`
	Status        string    `json:"status" gorm:"type:varchar(16);not null;default:'pending'"`
	ErrorKind     string    `json:"error_kind" gorm:"type:varchar(32)"`
	ErrorMsg      string    `json:"error_msg" gorm:"type:text"`
	Commands      int       `json:"commands"`
	TranscriptURI string    `json:"transcript_uri" gorm:"type:varchar(512)"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Duration      int64     `json:"duration"` // milliseconds
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Logs []CommandLog `json:"logs,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

func (ScriptRun) TableName() string {
	return "script_runs"
}

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// CommandLog is one round trip of a run: the prompt shown, the input sent
// (masked for secrets) and the output received.
type CommandLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID     string    `json:"run_id" gorm:"type:varchar(64);not null;index"`
	Seq       int       `json:"seq" gorm:"not null"`
	Prompt    string    `json:"prompt" gorm:"type:varchar(256)"`
	Input     string    `json:"input" gorm:"type:text"`
	Output    string    `json:"output" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (CommandLog) TableName() string {
	return "command_logs"
}
