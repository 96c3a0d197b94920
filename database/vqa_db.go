package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	sq "github.com/Masterminds/squirrel"
)

type Image struct {
	ID         int64  `json:"image_id"`
	FileName   string `json:"filename"`
	FilePath   string `json:"file_path"`
	UploadTime int64  `json:"upload_time"`
}

// CachedAnswer is the persisted answer of one (image, question) pair.
type CachedAnswer struct {
	QuestionID int64
	AnswerText string
	Confidence float64
}

// EnsureImageRecord inserts an image row keyed by file name unless one exists.
// The file name is the only dedup key: a second upload under the same name
// returns the first row and its file path, not the new one.
func EnsureImageRecord(ctx context.Context, db Querier, fileName, filePath string, uploadTime int64) (Image, bool, error) {
	queryBuilder := psql.Insert("images").
		Columns("file_name", "file_path", "upload_time").
		Values(fileName, filePath, uploadTime).
		Suffix("ON CONFLICT(file_name) DO NOTHING")

	sqlStr, args, err := build(queryBuilder, "EnsureImageRecord")
	if err != nil {
		return Image{}, false, err
	}

	result, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return Image{}, false, fmt.Errorf("failed to ensure image record for %s: %w", fileName, err)
	}

	rowsAffected, _ := result.RowsAffected()
	created := rowsAffected > 0
	if created {
		log.Printf("database: created image record for %s", fileName)
	}

	image, err := GetImageByFileName(ctx, db, fileName)
	if err != nil {
		return Image{}, false, err
	}
	return image, created, nil
}

func GetImageByFileName(ctx context.Context, db Querier, fileName string) (Image, error) {
	return getImage(ctx, db, sq.Eq{"file_name": fileName}, fileName)
}

func GetImageByID(ctx context.Context, db Querier, imageID int64) (Image, error) {
	return getImage(ctx, db, sq.Eq{"image_id": imageID}, fmt.Sprintf("ID %d", imageID))
}

func getImage(ctx context.Context, db Querier, where sq.Eq, label string) (Image, error) {
	var img Image
	queryBuilder := psql.Select("image_id", "file_name", "file_path", "upload_time").
		From("images").
		Where(where).
		Limit(1)

	sqlStr, args, err := build(queryBuilder, "getImage")
	if err != nil {
		return Image{}, err
	}

	err = db.QueryRowContext(ctx, sqlStr, args...).Scan(&img.ID, &img.FileName, &img.FilePath, &img.UploadTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Image{}, sql.ErrNoRows
		}
		return Image{}, fmt.Errorf("failed to query image %s: %w", label, err)
	}
	return img, nil
}

// LookupAnswer returns the answer stored for the exact question text asked of
// imageID. sql.ErrNoRows means there is no question row or it has no answer yet.
func LookupAnswer(ctx context.Context, db Querier, imageID int64, questionText string) (CachedAnswer, error) {
	queryBuilder := psql.Select("q.question_id", "a.answer_text", "a.confidence_score").
		From("questions q").
		Join("answers a ON a.question_id = q.question_id").
		Where(sq.Eq{"q.image_id": imageID, "q.question_text": questionText}).
		Limit(1)

	sqlStr, args, err := build(queryBuilder, "LookupAnswer")
	if err != nil {
		return CachedAnswer{}, err
	}

	var ans CachedAnswer
	err = db.QueryRowContext(ctx, sqlStr, args...).Scan(&ans.QuestionID, &ans.AnswerText, &ans.Confidence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CachedAnswer{}, sql.ErrNoRows
		}
		return CachedAnswer{}, fmt.Errorf("failed to look up answer for image %d: %w", imageID, err)
	}
	return ans, nil
}

// PersistAnswer upserts the question and inserts its answer in one
// transaction. Both inserts are guarded by unique constraints, so when a
// concurrent caller committed first the stored answer is returned and
// created is false.
func PersistAnswer(ctx context.Context, db *sql.DB, imageID int64, questionText, answerText string, confidence float64) (CachedAnswer, bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return CachedAnswer{}, false, fmt.Errorf("failed to begin transaction for answer persist: %w", err)
	}
	defer tx.Rollback()

	questionID, err := upsertQuestion(ctx, tx, imageID, questionText)
	if err != nil {
		return CachedAnswer{}, false, err
	}

	inserted, err := insertAnswerIfAbsent(ctx, tx, questionID, answerText, confidence)
	if err != nil {
		return CachedAnswer{}, false, err
	}

	stored := CachedAnswer{QuestionID: questionID, AnswerText: answerText, Confidence: confidence}
	if !inserted {
		stored, err = getAnswerByQuestionID(ctx, tx, questionID)
		if err != nil {
			return CachedAnswer{}, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return CachedAnswer{}, false, fmt.Errorf("failed to commit answer for question %d: %w", questionID, err)
	}
	return stored, inserted, nil
}

func upsertQuestion(ctx context.Context, db Querier, imageID int64, questionText string) (int64, error) {
	insertBuilder := psql.Insert("questions").
		Columns("image_id", "question_text").
		Values(imageID, questionText).
		Suffix("ON CONFLICT(image_id, question_text) DO NOTHING")

	sqlStr, args, err := build(insertBuilder, "upsertQuestion")
	if err != nil {
		return 0, err
	}
	if _, err = db.ExecContext(ctx, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("failed to upsert question for image %d: %w", imageID, err)
	}

	selectBuilder := psql.Select("question_id").
		From("questions").
		Where(sq.Eq{"image_id": imageID, "question_text": questionText})

	sqlStr, args, err = build(selectBuilder, "upsertQuestion")
	if err != nil {
		return 0, err
	}

	var questionID int64
	if err = db.QueryRowContext(ctx, sqlStr, args...).Scan(&questionID); err != nil {
		return 0, fmt.Errorf("failed to read question id for image %d: %w", imageID, err)
	}
	return questionID, nil
}

func insertAnswerIfAbsent(ctx context.Context, db Querier, questionID int64, answerText string, confidence float64) (bool, error) {
	queryBuilder := psql.Insert("answers").
		Columns("question_id", "answer_text", "confidence_score").
		Values(questionID, answerText, confidence).
		Suffix("ON CONFLICT(question_id) DO NOTHING")

	sqlStr, args, err := build(queryBuilder, "insertAnswerIfAbsent")
	if err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert answer for question %d: %w", questionID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for question %d: %w", questionID, err)
	}
	return rowsAffected > 0, nil
}

func getAnswerByQuestionID(ctx context.Context, db Querier, questionID int64) (CachedAnswer, error) {
	queryBuilder := psql.Select("question_id", "answer_text", "confidence_score").
		From("answers").
		Where(sq.Eq{"question_id": questionID}).
		Limit(1)

	sqlStr, args, err := build(queryBuilder, "getAnswerByQuestionID")
	if err != nil {
		return CachedAnswer{}, err
	}

	var ans CachedAnswer
	err = db.QueryRowContext(ctx, sqlStr, args...).Scan(&ans.QuestionID, &ans.AnswerText, &ans.Confidence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CachedAnswer{}, sql.ErrNoRows
		}
		return CachedAnswer{}, fmt.Errorf("failed to read answer for question %d: %w", questionID, err)
	}
	return ans, nil
}

// CountAnswers returns how many question rows and how many answer rows exist
// for questionText on imageID, in that order.
func CountAnswers(ctx context.Context, db Querier, imageID int64, questionText string) (int, int, error) {
	queryBuilder := psql.Select("COUNT(DISTINCT q.question_id)", "COUNT(a.answer_id)").
		From("questions q").
		LeftJoin("answers a ON a.question_id = q.question_id").
		Where(sq.Eq{"q.image_id": imageID, "q.question_text": questionText})

	sqlStr, args, err := build(queryBuilder, "CountAnswers")
	if err != nil {
		return 0, 0, err
	}

	var questions, answers int
	if err = db.QueryRowContext(ctx, sqlStr, args...).Scan(&questions, &answers); err != nil {
		return 0, 0, fmt.Errorf("failed to count answers for image %d: %w", imageID, err)
	}
	return questions, answers, nil
}
