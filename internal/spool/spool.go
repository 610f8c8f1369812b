// Package spool implements the durable, file-backed event log. Each event
// is one JSON file under pending/ until a consumer marks it processed, at
// which point the file is renamed into processed/. Filenames sort
// lexicographically by timestamp, so directory order is delivery order.
package spool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/common/logger"
	"github.com/vibesuite/orchestrator/internal/events"
)

// Spool is a durable FIFO event log rooted at a base directory.
type Spool struct {
	pendingDir   string
	processedDir string
	log          *logger.Logger
}

// Open creates (if needed) and returns a spool rooted at baseDir.
func Open(baseDir string, log *logger.Logger) (*Spool, error) {
	s := &Spool{
		pendingDir:   filepath.Join(baseDir, "pending"),
		processedDir: filepath.Join(baseDir, "processed"),
		log:          log,
	}
	for _, dir := range []string{s.pendingDir, s.processedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.SpoolError("failed to create spool directory", err)
		}
	}
	return s, nil
}

// Append durably writes a new event to pending/ and returns it. The file
// and its directory are both fsynced before returning, so a crash after
// Append never loses the event.
func (s *Spool) Append(kind, source string, payload any) (*events.Event, error) {
	ev, err := events.New(kind, source, payload)
	if err != nil {
		return nil, errors.SpoolError("failed to encode event payload", err)
	}
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return nil, errors.SpoolError("failed to encode event", err)
	}

	name := Filename(ev)
	path := filepath.Join(s.pendingDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.SpoolError("failed to create event file", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, errors.SpoolError("failed to write event file", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, errors.SpoolError("failed to sync event file", err)
	}
	if err := f.Close(); err != nil {
		return nil, errors.SpoolError("failed to close event file", err)
	}
	if err := syncDir(s.pendingDir); err != nil {
		return nil, err
	}

	s.log.Debug("Event appended to spool", zap.String("event_id", ev.ID), zap.String("kind", ev.Kind))
	return ev, nil
}

// ListPending returns pending events in filename order, which is
// non-decreasing timestamp order.
func (s *Spool) ListPending() ([]*events.Event, error) {
	return s.listDir(s.pendingDir, 0)
}

// ListProcessed returns processed events in filename order. A limit of 0
// means no limit.
func (s *Spool) ListProcessed(limit int) ([]*events.Event, error) {
	return s.listDir(s.processedDir, limit)
}

// ListAll returns pending then processed events merged into one
// filename-ordered slice, truncated to limit if limit > 0.
func (s *Spool) ListAll(limit int) ([]*events.Event, error) {
	pending, err := s.ListPending()
	if err != nil {
		return nil, err
	}
	processed, err := s.ListProcessed(0)
	if err != nil {
		return nil, err
	}
	all := append(pending, processed...)
	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Get returns a single event by id, searching pending/ then processed/.
// The id may be a unique prefix of at least eight characters.
func (s *Spool) Get(id string) (*events.Event, error) {
	for _, dir := range []string{s.pendingDir, s.processedDir} {
		name, err := s.find(dir, id)
		if err == nil {
			return s.readEvent(filepath.Join(dir, name))
		}
		if !errors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, errors.NotFound("event", id)
}

// MarkProcessed atomically renames the event file from pending/ to
// processed/. When two observers race on the same id, the second rename
// fails not-found; callers rely on that for deduplication.
func (s *Spool) MarkProcessed(id string) error {
	name, err := s.find(s.pendingDir, id)
	if err != nil {
		return err
	}
	src := filepath.Join(s.pendingDir, name)
	dst := filepath.Join(s.processedDir, name)
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound("event", id)
		}
		return errors.SpoolError("failed to move event to processed", err)
	}
	if err := syncDir(s.processedDir); err != nil {
		return err
	}
	return syncDir(s.pendingDir)
}

// Filename builds the spool filename for an event: the RFC 3339 timestamp
// with ':' and '.' replaced by '-', the kind with dots as dashes, and the
// first eight characters of the event id.
func Filename(ev *events.Event) string {
	ts := ev.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	kind := strings.ReplaceAll(ev.Kind, ".", "-")
	return ts + "-" + kind + "-" + shortID(ev.ID) + ".json"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// find locates the filename for an event id within a directory. Lookup is
// by the eight-character short id embedded in the filename; when a short
// prefix matches more than one file, the full id disambiguates, and an
// ambiguous prefix is rejected rather than resolved arbitrarily.
func (s *Spool) find(dir, id string) (string, error) {
	if len(id) < 8 {
		return "", errors.ValidationError("id", "event id prefix must be at least 8 characters")
	}
	names, err := readDirNames(dir)
	if err != nil {
		return "", err
	}
	marker := "-" + shortID(id) + ".json"
	var matches []string
	for _, name := range names {
		if strings.HasSuffix(name, marker) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 0:
		return "", errors.NotFound("event", id)
	case 1:
		return matches[0], nil
	}
	if len(id) > 8 {
		for _, name := range matches {
			ev, err := s.readEvent(filepath.Join(dir, name))
			if err == nil && ev.ID == id {
				return name, nil
			}
		}
		return "", errors.NotFound("event", id)
	}
	return "", errors.InvalidState("event id prefix is ambiguous")
}

func (s *Spool) listDir(dir string, limit int) ([]*events.Event, error) {
	names, err := readDirNames(dir)
	if err != nil {
		return nil, err
	}
	evs := make([]*events.Event, 0, len(names))
	for _, name := range names {
		ev, err := s.readEvent(filepath.Join(dir, name))
		if err != nil {
			// One corrupt file must not hide the rest of the log.
			s.log.WithError(err).Warn("Skipping unreadable spool file", zap.String("file", name))
			continue
		}
		evs = append(evs, ev)
		if limit > 0 && len(evs) >= limit {
			break
		}
	}
	return evs, nil
}

func (s *Spool) readEvent(path string) (*events.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.SpoolError("failed to read event file", err)
	}
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, errors.SpoolError("failed to decode event file", err)
	}
	return &ev, nil
}

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.SpoolError("failed to read spool directory", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.SpoolError("failed to open spool directory for sync", err)
	}
	defer func() {
		_ = d.Close()
	}()
	if err := d.Sync(); err != nil {
		return errors.SpoolError("failed to sync spool directory", err)
	}
	return nil
}
