package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Tag is a platform tag as listed by its directory endpoint.
type Tag struct {
	ID   string
	Name string
}

// TagDirectory maps tag names to platform ids for platforms whose tag
// mutations take ids. Each adapter instance owns one. The directory is
// loaded on first use and updated when a tag is created; lookups are
// case-insensitive.
type TagDirectory struct {
	load   func(ctx context.Context) ([]Tag, error)
	create func(ctx context.Context, name string) (Tag, error)

	mu     sync.Mutex
	loaded bool
	byName map[string]Tag
	byID   map[string]Tag
}

// NewTagDirectory returns an empty directory backed by the given list and
// create calls.
func NewTagDirectory(load func(ctx context.Context) ([]Tag, error), create func(ctx context.Context, name string) (Tag, error)) *TagDirectory {
	return &TagDirectory{
		load:   load,
		create: create,
		byName: make(map[string]Tag),
		byID:   make(map[string]Tag),
	}
}

func tagKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// ensureLoaded must be called with mu held.
func (d *TagDirectory) ensureLoaded(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	tags, err := d.load(ctx)
	if err != nil {
		return fmt.Errorf("loading tag directory: %w", err)
	}
	for _, t := range tags {
		d.put(t)
	}
	d.loaded = true
	return nil
}

func (d *TagDirectory) put(t Tag) {
	if t.ID == "" || tagKey(t.Name) == "" {
		return
	}
	d.byName[tagKey(t.Name)] = t
	d.byID[t.ID] = t
}

// Lookup returns the id of name without creating it.
func (d *TagDirectory) Lookup(ctx context.Context, name string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(ctx); err != nil {
		return "", false, err
	}
	t, ok := d.byName[tagKey(name)]
	return t.ID, ok, nil
}

// Ensure returns the id of name, creating the tag when the platform does not
// have it yet. The lock is held across the create call so concurrent workers
// never create the same tag twice.
func (d *TagDirectory) Ensure(ctx context.Context, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(ctx); err != nil {
		return "", err
	}
	if t, ok := d.byName[tagKey(name)]; ok {
		return t.ID, nil
	}
	t, err := d.create(ctx, strings.TrimSpace(name))
	if err != nil {
		return "", fmt.Errorf("creating tag %q: %w", name, err)
	}
	if t.Name == "" {
		t.Name = name
	}
	d.put(t)
	return t.ID, nil
}

// NameOf returns the name of the tag with the given id.
func (d *TagDirectory) NameOf(ctx context.Context, id string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(ctx); err != nil {
		return "", false, err
	}
	t, ok := d.byID[id]
	return t.Name, ok, nil
}

// Invalidate forces the next lookup to reload the directory.
func (d *TagDirectory) Invalidate() {
	d.mu.Lock()
	d.loaded = false
	d.byName = make(map[string]Tag)
	d.byID = make(map[string]Tag)
	d.mu.Unlock()
}

// Palette is the set of colors new tags are created with.
var Palette = []string{"#FF0000", "#00FF00", "#0000FF", "#FFA500"}

// ColorFor picks a palette color for a tag name. The choice depends only on
// the name so reruns create identically colored tags.
func ColorFor(name string) string {
	var h uint32
	for _, r := range tagKey(name) {
		h = h*31 + uint32(r)
	}
	return Palette[h%uint32(len(Palette))]
}
