package model

import (
	"time"
)

// Document is one stored document row: the value at <collection>/<key>,
// serialized as JSON. Relational backends keep the schema-less tree this way.
type Document struct {
	Collection string `gorm:"primaryKey;size:128;not null"`
	Key        string `gorm:"column:doc_key;primaryKey;size:256;not null"`
	Data       string `gorm:"not null"`
	Version    int64  `gorm:"not null;default:0"`
	UpdatedAt  time.Time
}

func (Document) TableName() string {
	return "documents"
}
