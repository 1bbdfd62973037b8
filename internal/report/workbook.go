package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"rollcall/internal/attendance"
)

// Workbook layout
const (
	SheetName       = "Attendance"
	FileName        = "attendance.xlsx"
	TimestampFormat = "2006-01-02 15:04:05"
)

var header = []any{"Student ID", "Student Name", "Timestamp"}

var _ attendance.ArtifactSealer = (*WorkbookStore)(nil)

// WorkbookStore keeps each course's roster in an .xlsx workbook under
// <workDir>/sheets/<course>/attendance.xlsx, with <course> encoded by
// attendance.CourseDirName. Writes to the same course are serialised;
// different courses proceed independently. A finished session seals its
// workbook into <workDir>/sheets/<course>/<session id>/ before delivery.
type WorkbookStore struct {
	root     string
	location *time.Location
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWorkbookStore creates a store rooted at <workDir>/sheets. Timestamps
// are written in loc, or local time when loc is nil.
func NewWorkbookStore(workDir string, loc *time.Location, logger *slog.Logger) *WorkbookStore {
	if loc == nil {
		loc = time.Local
	}
	return &WorkbookStore{
		root:     filepath.Join(workDir, "sheets"),
		location: loc,
		logger:   logger.With("component", "workbook_store"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Location returns the path of the course's workbook
func (s *WorkbookStore) Location(courseID string) string {
	return filepath.Join(s.courseDir(courseID), FileName)
}

func (s *WorkbookStore) courseDir(courseID string) string {
	return filepath.Join(s.root, attendance.CourseDirName(courseID))
}

func (s *WorkbookStore) lock(courseID string) func() {
	s.mu.Lock()
	l, ok := s.locks[courseID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[courseID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// LoadRoster returns the student ids already in the course's workbook
func (s *WorkbookStore) LoadRoster(ctx context.Context, courseID string) (map[string]struct{}, error) {
	unlock := s.lock(courseID)
	defer unlock()

	rows, err := s.readRows(courseID)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		ids[row.SubjectID] = struct{}{}
	}
	return ids, nil
}

// ReadRows returns every roster row of the course's workbook in file order
func (s *WorkbookStore) ReadRows(ctx context.Context, courseID string) ([]attendance.RosterRow, error) {
	unlock := s.lock(courseID)
	defer unlock()
	return s.readRows(courseID)
}

func (s *WorkbookStore) readRows(courseID string) ([]attendance.RosterRow, error) {
	path := s.Location(courseID)
	f, err := excelize.OpenFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(SheetName); err != nil || idx < 0 {
		return nil, nil
	}

	cells, err := f.GetRows(SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", SheetName, err)
	}

	var rows []attendance.RosterRow
	for i, cols := range cells {
		if i == 0 || len(cols) == 0 || strings.TrimSpace(cols[0]) == "" {
			continue
		}
		row := attendance.RosterRow{SubjectID: strings.TrimSpace(cols[0])}
		if len(cols) > 1 {
			row.DisplayName = cols[1]
		}
		if len(cols) > 2 {
			if ts, err := time.ParseInLocation(TimestampFormat, cols[2], s.location); err == nil {
				row.Timestamp = ts
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendRows appends rows to the course's workbook, creating the file,
// sheet and header row on first use
func (s *WorkbookStore) AppendRows(ctx context.Context, courseID string, rows []attendance.RosterRow) error {
	if len(rows) == 0 {
		return nil
	}

	unlock := s.lock(courseID)
	defer unlock()

	path := s.Location(courseID)
	f, err := s.openOrCreate(path)
	if err != nil {
		return err
	}
	defer f.Close()

	existing, err := f.GetRows(SheetName)
	if err != nil {
		return fmt.Errorf("failed to read sheet %s: %w", SheetName, err)
	}

	next := len(existing) + 1
	if len(existing) == 0 {
		if err := setRow(f, 1, header); err != nil {
			return err
		}
		_ = f.SetColWidth(SheetName, "A", "C", 22)
		next = 2
	}

	for _, row := range rows {
		values := []any{row.SubjectID, row.DisplayName, row.Timestamp.In(s.location).Format(TimestampFormat)}
		if err := setRow(f, next, values); err != nil {
			return err
		}
		next++
	}

	if err := save(f, path); err != nil {
		return err
	}

	s.logger.Debug("workbook updated", "course_id", courseID, "rows", len(rows), "path", path)
	return nil
}

func (s *WorkbookStore) openOrCreate(path string) (*excelize.File, error) {
	f, err := excelize.OpenFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sheet directory: %w", err)
		}
		f = excelize.NewFile()
		if err := f.SetSheetName("Sheet1", SheetName); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to name sheet: %w", err)
		}
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}

	if idx, err := f.GetSheetIndex(SheetName); err != nil || idx < 0 {
		if _, err := f.NewSheet(SheetName); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to add sheet %s: %w", SheetName, err)
		}
	}
	return f, nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}

// save writes the workbook next to path and renames it into place so a
// reader never sees a half-written file
func save(f *excelize.File, path string) error {
	tmp := path + ".tmp.xlsx"
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace workbook: %w", err)
	}
	return nil
}

// Seal moves the course's workbook into a directory named after sessionID
// and returns its new path. The next append for the course starts a fresh
// workbook. A course without a workbook yields "" and no error.
func (s *WorkbookStore) Seal(ctx context.Context, courseID, sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." || sessionID != filepath.Base(sessionID) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}

	unlock := s.lock(courseID)
	defer unlock()

	live := s.Location(courseID)
	if _, err := os.Stat(live); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	dir := filepath.Join(s.courseDir(courseID), sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create sealed workbook directory: %w", err)
	}
	sealed := filepath.Join(dir, FileName)
	if err := os.Rename(live, sealed); err != nil {
		_ = os.Remove(dir)
		return "", fmt.Errorf("failed to seal workbook %s: %w", live, err)
	}

	s.logger.Debug("workbook sealed", "course_id", courseID, "session_id", sessionID, "path", sealed)
	return sealed, nil
}

// Discard deletes a workbook returned by Seal together with its session
// directory. A missing file is not an error.
func (s *WorkbookStore) Discard(ctx context.Context, location string) error {
	rel, err := filepath.Rel(s.root, location)
	if err != nil {
		return fmt.Errorf("not a sealed workbook: %s", location)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 3 || parts[0] == ".." || parts[2] != FileName {
		return fmt.Errorf("not a sealed workbook: %s", location)
	}

	dir := filepath.Dir(location)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete workbook %s: %w", location, err)
	}
	return nil
}
