package database

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")

	ErrHallNotFound    = fmt.Errorf("%w: hall", ErrNotFound)
	ErrCourseNotFound  = fmt.Errorf("%w: course", ErrNotFound)
	ErrStudentNotFound = fmt.Errorf("%w: student", ErrNotFound)
	ErrSessionNotFound = fmt.Errorf("%w: attendance session", ErrNotFound)
)
