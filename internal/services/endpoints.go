package services

import (
	"context"

	goa "goa.design/goa/v3/pkg"
)

// IDPayload addresses a single resource by id
type IDPayload struct {
	ID string
}

// AttendanceEndpoints wraps the attendance service methods
type AttendanceEndpoints struct {
	Start   goa.Endpoint
	Stop    goa.Endpoint
	Get     goa.Endpoint
	List    goa.Endpoint
	History goa.Endpoint
}

// NewAttendanceEndpoints wraps the methods of the attendance service with endpoints
func NewAttendanceEndpoints(s *AttendanceImplementation) *AttendanceEndpoints {
	return &AttendanceEndpoints{
		Start: func(ctx context.Context, req any) (any, error) {
			return s.Start(ctx, req.(*StartPayload))
		},
		Stop: func(ctx context.Context, req any) (any, error) {
			return nil, s.Stop(ctx, req.(*StopPayload))
		},
		Get: func(ctx context.Context, req any) (any, error) {
			return s.Get(ctx, req.(*IDPayload).ID)
		},
		List: func(ctx context.Context, req any) (any, error) {
			return s.List(ctx)
		},
		History: func(ctx context.Context, req any) (any, error) {
			return s.History(ctx, req.(*HistoryPayload))
		},
	}
}

// DirectoryEndpoints wraps the directory service methods
type DirectoryEndpoints struct {
	CreateHall   goa.Endpoint
	ListHalls    goa.Endpoint
	PutCamera    goa.Endpoint
	GetCamera    goa.Endpoint
	DeleteCamera goa.Endpoint
	PutCourse    goa.Endpoint
	PutStudent   goa.Endpoint
	GetStudent   goa.Endpoint
	Enroll       goa.Endpoint
}

// NewDirectoryEndpoints wraps the methods of the directory service with endpoints
func NewDirectoryEndpoints(s *DirectoryImplementation) *DirectoryEndpoints {
	return &DirectoryEndpoints{
		CreateHall: func(ctx context.Context, req any) (any, error) {
			return nil, s.CreateHall(ctx, req.(*HallPayload))
		},
		ListHalls: func(ctx context.Context, req any) (any, error) {
			return s.ListHalls(ctx)
		},
		PutCamera: func(ctx context.Context, req any) (any, error) {
			return s.PutCamera(ctx, req.(*CameraPayload))
		},
		GetCamera: func(ctx context.Context, req any) (any, error) {
			return s.GetCamera(ctx, req.(*IDPayload).ID)
		},
		DeleteCamera: func(ctx context.Context, req any) (any, error) {
			return nil, s.DeleteCamera(ctx, req.(*IDPayload).ID)
		},
		PutCourse: func(ctx context.Context, req any) (any, error) {
			return nil, s.PutCourse(ctx, req.(*CoursePayload))
		},
		PutStudent: func(ctx context.Context, req any) (any, error) {
			return s.PutStudent(ctx, req.(*StudentPayload))
		},
		GetStudent: func(ctx context.Context, req any) (any, error) {
			return s.GetStudent(ctx, req.(*IDPayload).ID)
		},
		Enroll: func(ctx context.Context, req any) (any, error) {
			return nil, s.Enroll(ctx, req.(*EnrollPayload))
		},
	}
}

// HealthEndpoints wraps the health service methods
type HealthEndpoints struct {
	Healthz goa.Endpoint
	Readyz  goa.Endpoint
}

// NewHealthEndpoints wraps the methods of the health service with endpoints
func NewHealthEndpoints(s *HealthImplementation) *HealthEndpoints {
	return &HealthEndpoints{
		Healthz: func(ctx context.Context, req any) (any, error) {
			if err := s.Healthz(ctx); err != nil {
				return nil, err
			}
			return map[string]string{"status": "ok"}, nil
		},
		Readyz: func(ctx context.Context, req any) (any, error) {
			checks, err := s.Readyz(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"status": "ready", "checks": checks}, nil
		},
	}
}
