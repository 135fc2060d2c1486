// Package cache provides read-through in-memory caching for derived course
// collections and access-check results, with versioned keys so stale entries
// become unreachable instead of needing an active purge.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ChildEntry is one ordered child (module of a course, lesson of a module).
type ChildEntry struct {
	ID            uint
	Title         string
	Status        string
	SequenceOrder int
}

// CourseStats aggregates module and lesson counts for a course.
type CourseStats struct {
	Modules int
	Lessons int
}

// Loader fetches collections from the backing store on a cache miss.
// ModifiedAt methods return the entity's last-modified unix timestamp,
// or 0 when the entity has no usable timestamp.
type Loader interface {
	LoadCourseModules(courseID uint) ([]ChildEntry, error)
	LoadModuleLessons(moduleID uint) ([]ChildEntry, error)
	LoadCourseStats(courseID uint) (CourseStats, error)
	CourseModifiedAt(courseID uint) int64
	ModuleModifiedAt(moduleID uint) int64
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

type accessEntry struct {
	allowed   bool
	expiresAt time.Time
}

// Handler memoizes ordered modules-of-course, ordered lessons-of-module and
// course stats. Keys embed the entity version (last-modified timestamp, or a
// global fallback counter), so a write that rolls the version makes the old
// entry unreachable even before the targeted invalidation runs.
type Handler struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	// Fallback version, used when an entity has no modified timestamp.
	// Incremented by BumpVersion.
	fallbackVersion int64

	accessMu sync.RWMutex
	access   map[string]accessEntry
}

// NewHandler creates a cache handler over the given loader.
func NewHandler(loader Loader, ttl time.Duration) *Handler {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Handler{
		loader:          loader,
		ttl:             ttl,
		now:             time.Now,
		entries:         make(map[string]entry),
		fallbackVersion: 1,
		access:          make(map[string]accessEntry),
	}
}

// SetClock overrides the time source, for tests.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// CourseModules returns the ordered visible modules of a course.
func (h *Handler) CourseModules(courseID uint) ([]ChildEntry, error) {
	key := h.Key("course_modules", courseID, h.loader.CourseModifiedAt(courseID))
	if v, ok := h.get(key); ok {
		return v.([]ChildEntry), nil
	}

	modules, err := h.loader.LoadCourseModules(courseID)
	if err != nil {
		return nil, err
	}
	h.set(key, modules)
	return modules, nil
}

// ModuleLessons returns the ordered visible lessons of a module.
func (h *Handler) ModuleLessons(moduleID uint) ([]ChildEntry, error) {
	key := h.Key("module_lessons", moduleID, h.loader.ModuleModifiedAt(moduleID))
	if v, ok := h.get(key); ok {
		return v.([]ChildEntry), nil
	}

	lessons, err := h.loader.LoadModuleLessons(moduleID)
	if err != nil {
		return nil, err
	}
	h.set(key, lessons)
	return lessons, nil
}

// CourseStats returns module/lesson counts for a course.
func (h *Handler) CourseStats(courseID uint) (CourseStats, error) {
	key := h.Key("course_stats", courseID, h.loader.CourseModifiedAt(courseID))
	if v, ok := h.get(key); ok {
		return v.(CourseStats), nil
	}

	stats, err := h.loader.LoadCourseStats(courseID)
	if err != nil {
		return CourseStats{}, err
	}
	h.set(key, stats)
	return stats, nil
}

// Key builds the versioned cache key for an entity collection. A version of 0
// means the entity had no modified timestamp; the global fallback counter is
// used instead.
func (h *Handler) Key(kind string, id uint, version int64) string {
	if version <= 0 {
		h.mu.RLock()
		version = h.fallbackVersion
		h.mu.RUnlock()
	}
	return sanitizeKey(fmt.Sprintf("%s_%d_v%d", kind, id, version))
}

// InvalidateCourse flushes a course's modules and stats entries, every version.
func (h *Handler) InvalidateCourse(courseID uint) {
	h.dropPrefix(fmt.Sprintf("course_modules_%d_v", courseID))
	h.dropPrefix(fmt.Sprintf("course_stats_%d_v", courseID))
}

// InvalidateModule flushes a module's lessons entries and its course's
// derived entries.
func (h *Handler) InvalidateModule(moduleID, courseID uint) {
	h.dropPrefix(fmt.Sprintf("module_lessons_%d_v", moduleID))
	if courseID > 0 {
		h.InvalidateCourse(courseID)
	}
}

// InvalidateLesson flushes the parent module's lessons and the course stats.
func (h *Handler) InvalidateLesson(moduleID, courseID uint) {
	h.dropPrefix(fmt.Sprintf("module_lessons_%d_v", moduleID))
	if courseID > 0 {
		h.dropPrefix(fmt.Sprintf("course_stats_%d_v", courseID))
	}
}

// BumpVersion is the manual escape hatch: rolls the fallback version and
// drops every collection entry.
func (h *Handler) BumpVersion() {
	h.mu.Lock()
	h.fallbackVersion++
	h.entries = make(map[string]entry)
	h.mu.Unlock()
}

// AccessResult returns a memoized access-check result for (user, course).
func (h *Handler) AccessResult(userID, courseID uint) (allowed, found bool) {
	key := accessKey(userID, courseID)
	h.accessMu.RLock()
	e, ok := h.access[key]
	h.accessMu.RUnlock()
	if !ok || h.now().After(e.expiresAt) {
		return false, false
	}
	return e.allowed, true
}

// SetAccessResult memoizes an access-check result for (user, course).
func (h *Handler) SetAccessResult(userID, courseID uint, allowed bool) {
	h.accessMu.Lock()
	h.access[accessKey(userID, courseID)] = accessEntry{
		allowed:   allowed,
		expiresAt: h.now().Add(h.ttl),
	}
	h.accessMu.Unlock()
}

// InvalidateAccess drops the memoized result for (user, course). Called
// unconditionally after every grant mutation.
func (h *Handler) InvalidateAccess(userID, courseID uint) {
	h.accessMu.Lock()
	delete(h.access, accessKey(userID, courseID))
	h.accessMu.Unlock()
}

// CleanupExpired removes timed-out entries. Called from the background sweep;
// correctness never depends on it since reads check expiry themselves.
func (h *Handler) CleanupExpired() {
	now := h.now()

	h.mu.Lock()
	for k, e := range h.entries {
		if now.After(e.expiresAt) {
			delete(h.entries, k)
		}
	}
	h.mu.Unlock()

	h.accessMu.Lock()
	for k, e := range h.access {
		if now.After(e.expiresAt) {
			delete(h.access, k)
		}
	}
	h.accessMu.Unlock()
}

// Size returns the number of live collection entries, for diagnostics.
func (h *Handler) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *Handler) get(key string) (interface{}, bool) {
	h.mu.RLock()
	e, ok := h.entries[key]
	h.mu.RUnlock()
	if !ok || h.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (h *Handler) set(key string, value interface{}) {
	h.mu.Lock()
	h.entries[key] = entry{value: value, expiresAt: h.now().Add(h.ttl)}
	h.mu.Unlock()
}

func (h *Handler) dropPrefix(prefix string) {
	h.mu.Lock()
	for k := range h.entries {
		if strings.HasPrefix(k, prefix) {
			delete(h.entries, k)
		}
	}
	h.mu.Unlock()
}

func accessKey(userID, courseID uint) string {
	return fmt.Sprintf("access_%d_%d", userID, courseID)
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, key)
}
