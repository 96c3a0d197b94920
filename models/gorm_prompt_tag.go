package models

// PromptTag is a free-text label attached to a generated image.
// Duplicate names on the same image are allowed.
type PromptTag struct {
	ID               int64  `gorm:"column:tag_id;primaryKey;autoIncrement" json:"tag_id"`
	GeneratedImageID int64  `gorm:"column:generated_image_id;not null;index" json:"generated_image_id"`
	TagName          string `gorm:"column:tag_name;not null" json:"tag_name"`
	CreatedAt        int64  `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"` // Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (PromptTag) TableName() string {
	return "prompt_tags"
}
