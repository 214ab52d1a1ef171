// Package catalog serves the read-only event definitions.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/okian/rollcall/internal/domain/model"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// ErrDuplicateID is returned when a catalog file repeats an event id.
var ErrDuplicateID = errors.New("duplicate event id")

// ErrInvalidEvent is returned for catalog entries without an id.
var ErrInvalidEvent = errors.New("invalid event")

// Catalog is the event lookup consumed by the ranking and registration flows.
type Catalog interface {
	All(ctx context.Context) ([]model.EventRecord, error)
	ByID(ctx context.Context, id string) (model.EventRecord, bool, error)
	ByCategory(ctx context.Context, category string) ([]model.EventRecord, error)
}

type file struct {
	Events []model.EventRecord `yaml:"events"`
}

// Static is an immutable catalog held in memory, preserving file order.
type Static struct {
	events []model.EventRecord
	byID   map[string]int
}

// New builds a Static catalog from events.
func New(events []model.EventRecord) (*Static, error) {
	s := &Static{
		events: make([]model.EventRecord, len(events)),
		byID:   make(map[string]int, len(events)),
	}
	copy(s.events, events)
	for i, ev := range s.events {
		if strings.TrimSpace(ev.ID) == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrInvalidEvent, i)
		}
		if _, dup := s.byID[ev.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, ev.ID)
		}
		s.byID[ev.ID] = i
	}
	return s, nil
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Static, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Events)
}

// Load reads the catalog at path, or the built-in catalog when path is empty.
func Load(path string) (*Static, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in catalog.
func Default() (*Static, error) { return Parse(defaultCatalog) }

// Len returns the number of events.
func (s *Static) Len() int { return len(s.events) }

// All returns every event in catalog order.
func (s *Static) All(ctx context.Context) ([]model.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.EventRecord, len(s.events))
	copy(out, s.events)
	return out, nil
}

// ByID looks up one event.
func (s *Static) ByID(ctx context.Context, id string) (model.EventRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.EventRecord{}, false, err
	}
	i, ok := s.byID[id]
	if !ok {
		return model.EventRecord{}, false, nil
	}
	return s.events[i], true, nil
}

// ByCategory returns events whose category matches, ignoring case.
func (s *Static) ByCategory(ctx context.Context, category string) ([]model.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.EventRecord, 0)
	for _, ev := range s.events {
		if strings.EqualFold(ev.Category, category) {
			out = append(out, ev)
		}
	}
	return out, nil
}
