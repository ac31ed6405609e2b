package models

import "time"

// FileMetadata records an object uploaded into a resource's bucket.
// Rows are keyed by ObjectStoreName so teardown can purge them even when the
// owning resource record is already gone.
type FileMetadata struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	ResourceID      string    `gorm:"index" json:"resourceId"`
	ObjectStoreName string    `gorm:"index;not null" json:"objectStoreName"`
	Key             string    `gorm:"not null" json:"key"`
	Size            int64     `json:"size"`
	ContentType     string    `json:"contentType"`
	CreatedAt       time.Time `json:"createdAt"`
}
