package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"rollcall/internal/attendance"
)

// Workspace is the on-disk area holding captured stills, one directory per course
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at <workDir>/screenshots
func NewWorkspace(workDir string) *Workspace {
	return &Workspace{root: filepath.Join(workDir, "screenshots")}
}

// ScreenshotDir returns the course's screenshot directory
func (w *Workspace) ScreenshotDir(courseID string) string {
	return filepath.Join(w.root, attendance.CourseDirName(courseID))
}

// EnsureScreenshotDir creates the course's screenshot directory if needed
func (w *Workspace) EnsureScreenshotDir(courseID string) (string, error) {
	dir := w.ScreenshotDir(courseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return dir, nil
}

// ClearWorkingStorage deletes every still captured for the course and
// leaves an empty directory behind
func (w *Workspace) ClearWorkingStorage(ctx context.Context, courseID string) error {
	dir := w.ScreenshotDir(courseID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove screenshots for %s: %w", courseID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate screenshot directory for %s: %w", courseID, err)
	}
	return nil
}
