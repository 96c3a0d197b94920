package models

// GeneratedImage is one text-to-image generation attempt.
// It corresponds to the 'generated_images' table.
type GeneratedImage struct {
	ID                 int64   `gorm:"column:generated_image_id;primaryKey;autoIncrement" json:"id"`
	Prompt             string  `gorm:"column:prompt;not null" json:"prompt"`
	NegativePrompt     string  `gorm:"column:negative_prompt;not null" json:"negative_prompt"`
	FilePath           string  `gorm:"column:file_path;not null" json:"file_path"` // empty until completed
	FileName           string  `gorm:"column:file_name;not null" json:"filename"`
	Seed               int64   `gorm:"column:seed;not null;index" json:"seed"`
	NumInferenceSteps  int     `gorm:"column:num_inference_steps;not null" json:"num_inference_steps"`
	GuidanceScale      float64 `gorm:"column:guidance_scale;not null" json:"guidance_scale"`
	ImageWidth         int     `gorm:"column:image_width;not null" json:"width"`
	ImageHeight        int     `gorm:"column:image_height;not null" json:"height"`
	GenerationTime     int64   `gorm:"column:generation_time;not null" json:"generation_time"` // Unix timestamp, row creation
	GenerationDuration float64 `gorm:"column:generation_duration;not null" json:"generation_duration"` // seconds
	ModelUsed          string  `gorm:"column:model_used;not null" json:"model_used"`
	Status             string  `gorm:"column:status;not null;default:processing" json:"status"`
	ErrorMessage       *string `gorm:"column:error_message" json:"error_message,omitempty"` // Nullable
	ViewCount          int64   `gorm:"column:view_count;not null;default:0" json:"view_count"`
	DownloadCount      int64   `gorm:"column:download_count;not null;default:0" json:"download_count"`
	FileSize           int64   `gorm:"column:file_size;not null;default:0" json:"file_size"` // bytes
	FinalizedAt        *int64  `gorm:"column:finalized_at" json:"finalized_at,omitempty"` // Nullable, Unix timestamp

	// Relationships
	Tags []PromptTag `gorm:"foreignKey:GeneratedImageID;references:ID" json:"tags,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (GeneratedImage) TableName() string {
	return "generated_images"
}

// GenerationStatistics are the raw ledger aggregates.
type GenerationStatistics struct {
	Total              int64   `gorm:"column:total" json:"total_generations"`
	Completed          int64   `gorm:"column:completed" json:"successful_generations"`
	Failed             int64   `gorm:"column:failed" json:"failed_generations"`
	Processing         int64   `gorm:"column:processing" json:"processing_generations"`
	AvgDurationSeconds float64 `gorm:"column:avg_duration" json:"average_generation_time"`
	TotalBytes         int64   `gorm:"column:total_bytes" json:"total_storage_bytes"`
	TotalViews         int64   `gorm:"column:total_views" json:"total_views"`
	TotalDownloads     int64   `gorm:"column:total_downloads" json:"total_downloads"`
}
