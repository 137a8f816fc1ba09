package model

import "time"

// ChatRecord is one answered question. Records are append-only: they are
// written once after the answer has been shown and never updated.
type ChatRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"size:64;not null;index" json:"user_id"`
	Question   string    `gorm:"type:text;not null" json:"question"`
	Answer     string    `gorm:"type:text;not null" json:"answer"`
	Context    string    `gorm:"type:text" json:"context"`
	SourceFile string    `gorm:"size:256" json:"source_file"`
	CreatedAt  time.Time `json:"created_at"`
}
