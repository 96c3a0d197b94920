package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/camden-git/visionledger/media"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrConflict marks a lost first-writer race. It is resolved inside the
	// services and never returned to callers.
	ErrConflict   = errors.New("conflict")
	ErrGeneration = errors.New("generation failed")
	ErrDatabase   = errors.New("database error")

	ErrStorage          = media.ErrStorage
	ErrArtifactNotFound = media.ErrArtifactNotFound
)

type ValidationError struct {
	Field string
	Msg   string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(err error) bool {
	return err == ErrValidation
}

type NotFoundError struct {
	Entity string
	ID     interface{}
}

func NewNotFoundError(entity string, id interface{}) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// GenerationError wraps a collaborator failure. Timeouts keep
// context.DeadlineExceeded in the chain.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Is(err error) bool {
	return err == ErrGeneration
}

// Timeout reports whether the collaborator ran out of time.
func (e *GenerationError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

func (e *DatabaseError) Is(err error) bool {
	return err == ErrDatabase
}

func dbError(op string, err error) error {
	return &DatabaseError{Op: op, Err: err}
}
