package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"rollcall/internal/database"
)

// DirectoryStore is the reference data the attendance loop resolves at start
type DirectoryStore interface {
	SaveHall(ctx context.Context, name string) error
	ListHalls(ctx context.Context) ([]string, error)
	SaveCamera(ctx context.Context, cam *database.CameraRecord) error
	GetCamera(ctx context.Context, id string) (*database.CameraRecord, error)
	DeleteCamera(ctx context.Context, id string) error
	SaveCourse(ctx context.Context, id, name string) error
	SaveStudent(ctx context.Context, student *database.StudentRecord) error
	GetStudent(ctx context.Context, id string) (*database.StudentRecord, error)
	Enroll(ctx context.Context, courseID, studentID string) error
}

// HallPayload creates a hall
type HallPayload struct {
	Name string `json:"name" validate:"required,max=64"`
}

// CameraPayload creates or replaces a hall camera
type CameraPayload struct {
	ID       string `json:"id" validate:"required,max=64"`
	HallName string `json:"hall_name" validate:"required,max=64"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Address  string `json:"address" validate:"required"`
}

// CameraView is a camera without its credentials
type CameraView struct {
	ID          string `json:"id"`
	HallName    string `json:"hall_name"`
	Address     string `json:"address"`
	Credentials bool   `json:"credentials"`
	CreatedAt   string `json:"created_at"`
}

// CoursePayload creates or renames a course
type CoursePayload struct {
	ID   string `json:"id" validate:"required,max=64,excludesall=/\\"`
	Name string `json:"name" validate:"required"`
}

// StudentPayload creates or replaces a student. Encoding is the face
// embedding produced by the enrollment pipeline.
type StudentPayload struct {
	ID        string    `json:"id" validate:"required,max=64"`
	FirstName string    `json:"first_name" validate:"required"`
	LastName  string    `json:"last_name"`
	Encoding  []float64 `json:"encoding,omitempty" validate:"omitempty,min=1"`
}

// StudentView is the wire form of a student
type StudentView struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	HasEncoding bool   `json:"has_encoding"`
}

// EnrollPayload enrolls a student in a course
type EnrollPayload struct {
	CourseID  string `json:"course_id" validate:"required,max=64,excludesall=/\\"`
	StudentID string `json:"student_id" validate:"required,max=64"`
}

// DirectoryImplementation implements the directory service
type DirectoryImplementation struct {
	store    DirectoryStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewDirectoryService creates a new directory service implementation
func NewDirectoryService(store DirectoryStore, logger *slog.Logger) *DirectoryImplementation {
	return &DirectoryImplementation{
		store:    store,
		validate: validator.New(),
		logger:   logger.With("component", "directory_service"),
	}
}

// CreateHall adds a hall
func (d *DirectoryImplementation) CreateHall(ctx context.Context, p *HallPayload) error {
	if err := d.check(p); err != nil {
		return err
	}
	if err := d.store.SaveHall(ctx, p.Name); err != nil {
		return d.failed("Failed to save hall", err)
	}
	return nil
}

// ListHalls returns all hall names
func (d *DirectoryImplementation) ListHalls(ctx context.Context) ([]string, error) {
	halls, err := d.store.ListHalls(ctx)
	if err != nil {
		return nil, d.failed("Failed to list halls", err)
	}
	if halls == nil {
		halls = []string{}
	}
	return halls, nil
}

// PutCamera adds or replaces a camera; its hall must exist
func (d *DirectoryImplementation) PutCamera(ctx context.Context, p *CameraPayload) (*CameraView, error) {
	if err := d.check(p); err != nil {
		return nil, err
	}

	cam := &database.CameraRecord{
		ID:       p.ID,
		HallName: p.HallName,
		Username: p.Username,
		Password: p.Password,
		Address:  p.Address,
	}
	if err := d.store.SaveCamera(ctx, cam); err != nil {
		return nil, &BadRequestError{Message: "Failed to save camera", Details: stringPtr(err.Error())}
	}

	return toCameraView(cam), nil
}

// GetCamera returns a camera by id
func (d *DirectoryImplementation) GetCamera(ctx context.Context, id string) (*CameraView, error) {
	cam, err := d.store.GetCamera(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &NotFoundError{Message: "Camera not found", ID: id}
	}
	if err != nil {
		return nil, d.failed("Failed to get camera", err)
	}
	return toCameraView(cam), nil
}

// DeleteCamera removes a camera
func (d *DirectoryImplementation) DeleteCamera(ctx context.Context, id string) error {
	if _, err := d.GetCamera(ctx, id); err != nil {
		return err
	}
	if err := d.store.DeleteCamera(ctx, id); err != nil {
		return d.failed("Failed to delete camera", err)
	}
	return nil
}

// PutCourse adds or renames a course
func (d *DirectoryImplementation) PutCourse(ctx context.Context, p *CoursePayload) error {
	if err := d.check(p); err != nil {
		return err
	}
	if err := d.store.SaveCourse(ctx, p.ID, p.Name); err != nil {
		return d.failed("Failed to save course", err)
	}
	return nil
}

// PutStudent adds or replaces a student
func (d *DirectoryImplementation) PutStudent(ctx context.Context, p *StudentPayload) (*StudentView, error) {
	if err := d.check(p); err != nil {
		return nil, err
	}

	student := &database.StudentRecord{
		ID:        p.ID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Encoding:  p.Encoding,
	}
	if err := d.store.SaveStudent(ctx, student); err != nil {
		return nil, d.failed("Failed to save student", err)
	}
	return toStudentView(student), nil
}

// GetStudent returns a student by id
func (d *DirectoryImplementation) GetStudent(ctx context.Context, id string) (*StudentView, error) {
	student, err := d.store.GetStudent(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &NotFoundError{Message: "Student not found", ID: id}
	}
	if err != nil {
		return nil, d.failed("Failed to get student", err)
	}
	return toStudentView(student), nil
}

// Enroll adds a student to a course; both must exist
func (d *DirectoryImplementation) Enroll(ctx context.Context, p *EnrollPayload) error {
	if err := d.check(p); err != nil {
		return err
	}
	if err := d.store.Enroll(ctx, p.CourseID, p.StudentID); err != nil {
		return &BadRequestError{Message: "Failed to enroll student", Details: stringPtr(err.Error())}
	}
	return nil
}

func (d *DirectoryImplementation) check(payload any) error {
	if err := d.validate.Struct(payload); err != nil {
		return &BadRequestError{Message: "Invalid request", Details: stringPtr(err.Error())}
	}
	return nil
}

func (d *DirectoryImplementation) failed(message string, err error) error {
	d.logger.Error(message, "error", err)
	return &InternalError{Message: message, Details: stringPtr(err.Error())}
}

func toCameraView(cam *database.CameraRecord) *CameraView {
	return &CameraView{
		ID:          cam.ID,
		HallName:    cam.HallName,
		Address:     cam.Address,
		Credentials: cam.Username != "" || cam.Password != "",
		CreatedAt:   cam.CreatedAt.Format(time.RFC3339),
	}
}

func toStudentView(s *database.StudentRecord) *StudentView {
	return &StudentView{
		ID:          s.ID,
		FirstName:   s.FirstName,
		LastName:    s.LastName,
		HasEncoding: len(s.Encoding) > 0,
	}
}
