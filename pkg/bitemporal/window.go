package bitemporal

import (
	"fmt"
	"sort"
	"time"
)

// CreateWindow registers a named context window and makes it current.
// Edges created while a window is current are tagged with its name. Any
// previously current window stays open but stops tagging new edges.
func (m *Model) CreateWindow(name string, start time.Time, description string, frameworkVersions map[string]string) (*ContextWindow, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: window name is required", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.windows[name]; exists {
		return nil, fmt.Errorf("%w: window %q already exists", ErrInvalidInput, name)
	}

	if m.currentWindow != "" {
		if prev, ok := m.windows[m.currentWindow]; ok {
			prev.Current = false
		}
	}

	versions := make(map[string]string, len(frameworkVersions))
	for k, v := range frameworkVersions {
		versions[k] = v
	}
	window := &ContextWindow{
		Name:              name,
		Interval:          Interval{Start: start},
		Description:       description,
		FrameworkVersions: versions,
		Current:           true,
	}
	m.windows[name] = window
	m.currentWindow = name

	copied := *window
	return &copied, nil
}

// SetCurrentWindow switches write-tagging to an existing window. An empty
// name clears the current window.
func (m *Model) SetCurrentWindow(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentWindow != "" {
		if prev, ok := m.windows[m.currentWindow]; ok {
			prev.Current = false
		}
	}
	if name == "" {
		m.currentWindow = ""
		return nil
	}
	window, ok := m.windows[name]
	if !ok {
		return fmt.Errorf("context window %q: %w", name, ErrNotFound)
	}
	window.Current = true
	m.currentWindow = name
	return nil
}

// CloseCurrentWindow ends the current window's interval and clears it.
func (m *Model) CloseCurrentWindow(end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentWindow == "" {
		return fmt.Errorf("no current window: %w", ErrNotFound)
	}
	window := m.windows[m.currentWindow]
	if end.Before(window.Interval.Start) {
		return &TemporalConsistencyError{
			EdgeID:    "window:" + window.Name,
			Requested: end,
			Reason:    "window end before window start",
		}
	}
	endCopy := end
	window.Interval.End = &endCopy
	window.Current = false
	m.currentWindow = ""
	return nil
}

// Windows lists all context windows sorted by start time, then name.
func (m *Model) Windows() []ContextWindow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ContextWindow, 0, len(m.windows))
	for _, w := range m.windows {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Interval.Start.Equal(out[j].Interval.Start) {
			return out[i].Interval.Start.Before(out[j].Interval.Start)
		}
		return out[i].Name < out[j].Name
	})
	return out
}
