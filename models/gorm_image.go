package models

// Image represents an uploaded VQA image using GORM.
// It corresponds to the 'images' table.
type Image struct {
	ID         int64  `gorm:"column:image_id;primaryKey;autoIncrement" json:"image_id"`
	FileName   string `gorm:"column:file_name;not null;uniqueIndex" json:"filename"`
	FilePath   string `gorm:"column:file_path;not null" json:"file_path"` // storage reference path
	UploadTime int64  `gorm:"column:upload_time;not null" json:"upload_time"` // Unix timestamp

	// Relationships
	Questions []Question `gorm:"foreignKey:ImageID;references:ID" json:"questions,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Image) TableName() string {
	return "images"
}

// Question is one distinct question text asked about an image.
type Question struct {
	ID           int64  `gorm:"column:question_id;primaryKey;autoIncrement" json:"question_id"`
	ImageID      int64  `gorm:"column:image_id;not null;uniqueIndex:idx_image_question" json:"image_id"`
	QuestionText string `gorm:"column:question_text;not null;uniqueIndex:idx_image_question" json:"question_text"`

	Answer *Answer `gorm:"foreignKey:QuestionID;references:ID" json:"answer,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}

// Answer is the single persisted answer to a question.
type Answer struct {
	ID              int64   `gorm:"column:answer_id;primaryKey;autoIncrement" json:"answer_id"`
	QuestionID      int64   `gorm:"column:question_id;not null;uniqueIndex" json:"question_id"`
	AnswerText      string  `gorm:"column:answer_text;not null" json:"answer_text"`
	ConfidenceScore float64 `gorm:"column:confidence_score;not null" json:"confidence_score"` // 0..1
}

func (Answer) TableName() string {
	return "answers"
}

// QuestionWithAnswer is a question row joined with its answer, if any.
type QuestionWithAnswer struct {
	QuestionID      int64    `gorm:"column:question_id" json:"question_id"`
	QuestionText    string   `gorm:"column:question_text" json:"question"`
	AnswerText      string   `gorm:"column:answer_text" json:"answer"`
	ConfidenceScore *float64 `gorm:"column:confidence_score" json:"confidence_score,omitempty"`
}
