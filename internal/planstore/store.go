// Package planstore persists plan markdown to disk under
// project_plans/<projectId>/plans/<planId>.md with atomic rename writes, and
// watches the tree with fsnotify so edits made outside the API (an editor,
// a sync tool) are picked up as new plan revisions — grounded on
// original_source/backend/app/services/plan_file_store.py and
// plan_service.py's sync_external_if_needed (spec §6 "plan markdown lives
// under project_plans/<projectId>/plans/<planId>.md with atomic rename
// writes").
package planstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/store"
	"github.com/nextlevelbuilder/codeloom/internal/store/pg"
)

// safeSegment mirrors PlanFileStore._safe_segment: a path component must be
// alphanumeric plus '.', '_', '-' so a crafted project/plan id can never
// escape the root via "..".
var safeSegment = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store reads and writes plan markdown and watches the tree for external
// edits.
type Store struct {
	root  string
	repos *store.Repos
	bus   *bus.Bus

	watcher *fsnotify.Watcher
}

// New constructs a Store rooted at root (spec §6's "project_plans/" tree)
// and starts its fsnotify watcher. Call Run in a goroutine to drain it.
func New(root string, repos *store.Repos, b *bus.Bus) (*Store, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("planstore: create watcher: %w", err)
	}
	return &Store{root: root, repos: repos, bus: b, watcher: w}, nil
}

func (s *Store) planPath(projectID, planID uuid.UUID) (string, error) {
	proj := projectID.String()
	plan := planID.String()
	if !safeSegment.MatchString(proj) || !safeSegment.MatchString(plan) {
		return "", fmt.Errorf("planstore: invalid id segment")
	}
	return filepath.Join(s.root, proj, "plans", plan+".md"), nil
}

// Read implements chathistory.PlanContentReader.
func (s *Store) Read(projectID, planID uuid.UUID) (string, error) {
	path, err := s.planPath(projectID, planID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("planstore: read: %w", err)
	}
	return string(data), nil
}

// Write persists content to disk via write-to-tempfile + rename, sets the
// plan's content hash, then updates the ProjectPlan row through
// repos.Plans.Update, which dedups identical hashes and otherwise bumps the
// revision counter (internal/store/pg.ProjectPlanRepo.Update).
func (s *Store) Write(ctx context.Context, plan *store.ProjectPlan, content, editor string) error {
	path, err := s.planPath(plan.ProjectID, plan.ID)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, content); err != nil {
		return fmt.Errorf("planstore: write: %w", err)
	}
	if err := s.WatchProject(plan.ProjectID); err != nil {
		slog.Warn("planstore: watch project plans dir", "project", plan.ProjectID, "error", err)
	}
	plan.FilePath = path
	plan.ContentSHA256 = pg.HashContent(content)
	if err := s.repos.Plans.Update(ctx, plan, editor); err != nil {
		return fmt.Errorf("planstore: persist revision: %w", err)
	}
	s.bus.Publish(plan.ChatID.String(), bus.EventPlanUpdated, map[string]interface{}{
		"planId":   plan.ID.String(),
		"revision": plan.Revision,
		"editor":   editor,
	})
	return nil
}

func writeFileAtomic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// WatchProject adds a fsnotify watch on projectID's plans directory so
// externally-made edits are detected once Run starts draining events.
// Called once a plan is first created for a project.
func (s *Store) WatchProject(projectID uuid.UUID) error {
	dir := filepath.Join(s.root, projectID.String(), "plans")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("planstore: mkdir watch dir: %w", err)
	}
	return s.watcher.Add(dir)
}

// Run drains the fsnotify watcher's event channel until ctx is done or the
// watcher is closed.
func (s *Store) Run(ctx context.Context) error {
	defer s.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.handleExternalWrite(ctx, ev.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("planstore: watcher error", "error", err)
		}
	}
}

// handleExternalWrite implements plan_service.py's sync_external_if_needed:
// an edit made outside the API (no matching Update call) is detected purely
// from the file's new hash differing from the persisted row, and recorded
// as a revision with last_editor="external".
func (s *Store) handleExternalWrite(ctx context.Context, path string) {
	if !strings.HasSuffix(path, ".md") {
		return
	}
	projectID, planID, ok := parsePlanPath(s.root, path)
	if !ok {
		return
	}
	plan, err := s.repos.Plans.Get(ctx, planID)
	if err != nil {
		return
	}
	if plan.ProjectID != projectID {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	hash := pg.HashContent(string(content))
	if hash == plan.ContentSHA256 {
		return
	}
	plan.ContentSHA256 = hash
	if err := s.repos.Plans.Update(ctx, plan, "external"); err != nil {
		slog.Warn("planstore: record external plan edit", "plan", planID, "error", err)
		return
	}
	s.bus.Publish(plan.ChatID.String(), bus.EventPlanUpdated, map[string]interface{}{
		"planId":   planID.String(),
		"revision": plan.Revision,
		"editor":   "external",
	})
}

// parsePlanPath extracts (projectID, planID) from root/<projectId>/plans/<planId>.md.
func parsePlanPath(root, path string) (uuid.UUID, uuid.UUID, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || parts[1] != "plans" {
		return uuid.Nil, uuid.Nil, false
	}
	projectID, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	planID, err := uuid.Parse(strings.TrimSuffix(parts[2], ".md"))
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return projectID, planID, true
}
