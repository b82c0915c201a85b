package preferences

import (
	"sort"
	"sync"
)

// Root classes toggled by accessibility settings.
const (
	ClassHighContrast = "high-contrast"
	ClassDyslexiaFont = "dyslexia-font"
	AttrTheme         = "data-theme"
)

// Presentation receives the derived display effects of the preferences.
type Presentation interface {
	SetAttribute(name, value string)
	// SetThemeClass replaces the theme class on the root element.
	SetThemeClass(theme string)
	AddClass(name string)
	RemoveClass(name string)
}

// MemoryPresentation records presentation state in process.
type MemoryPresentation struct {
	mu          sync.RWMutex
	attributes  map[string]string
	classes     map[string]struct{}
	themeClass  string
	themeWrites int
}

func NewMemoryPresentation() *MemoryPresentation {
	return &MemoryPresentation{
		attributes: make(map[string]string),
		classes:    make(map[string]struct{}),
	}
}

func (m *MemoryPresentation) SetAttribute(name, value string) {
	m.mu.Lock()
	m.attributes[name] = value
	if name == AttrTheme {
		m.themeWrites++
	}
	m.mu.Unlock()
}

func (m *MemoryPresentation) SetThemeClass(theme string) {
	m.mu.Lock()
	if m.themeClass != "" {
		delete(m.classes, m.themeClass)
	}
	m.themeClass = theme
	if theme != "" {
		m.classes[theme] = struct{}{}
	}
	m.mu.Unlock()
}

func (m *MemoryPresentation) AddClass(name string) {
	m.mu.Lock()
	m.classes[name] = struct{}{}
	m.mu.Unlock()
}

func (m *MemoryPresentation) RemoveClass(name string) {
	m.mu.Lock()
	delete(m.classes, name)
	m.mu.Unlock()
}

func (m *MemoryPresentation) Attribute(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attributes[name]
}

func (m *MemoryPresentation) HasClass(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.classes[name]
	return ok
}

// Classes returns the root classes in sorted order.
func (m *MemoryPresentation) Classes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.classes))
	for c := range m.classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ThemeWrites counts how many times the theme attribute was applied.
func (m *MemoryPresentation) ThemeWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.themeWrites
}
