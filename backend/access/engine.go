// Package access implements the course access-control and drip-scheduling
// engine: tag-based course grants with optional expiration, and time-based
// module unlocking computed from a per-user access epoch.
package access

import (
	"log"
	"time"

	"project/backend/cache"
	"project/backend/models"
)

const daySeconds = 86400

// AccessFilter may override the outcome of an access check. It runs on every
// evaluation, so it must be idempotent and side-effect free. The pre-filter
// value is what the memo cache stores: an override is transient and is never
// persisted. See DESIGN.md before changing this.
type AccessFilter func(userID, courseID uint, allowed bool) bool

// Engine combines the grant store, entity store and cache handler into the
// access decision logic. All expected conditions (missing ids, locked
// content, expired access) are encoded in return values; errors surface only
// for store failures, which the engine logs and treats as "no access".
type Engine struct {
	entities EntityStore
	grants   GrantStore
	users    UserStore
	cache    *cache.Handler
	logger   *log.Logger
	now      func() time.Time

	// Optional override hook, applied after the built-in decision.
	AccessFilter AccessFilter
}

// NewEngine constructs the engine. The cache handler and logger are required.
func NewEngine(entities EntityStore, grants GrantStore, users UserStore, ch *cache.Handler, logger *log.Logger) *Engine {
	return &Engine{
		entities: entities,
		grants:   grants,
		users:    users,
		cache:    ch,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// AssignAccess tags the user for the course, computing an expiration from the
// course's access duration if one is configured. Idempotent: re-assigning
// refreshes the expiration and leaves the access start untouched.
func (e *Engine) AssignAccess(userID, courseID uint) bool {
	if userID == 0 || courseID == 0 {
		return false
	}

	course, err := e.entities.CourseByID(courseID)
	if err != nil {
		e.logger.Printf("assign access: course %d lookup failed: %v", courseID, err)
		return false
	}
	if course == nil {
		return false
	}

	expiresAt := e.expirationFor(course)
	if err := e.grants.Upsert(userID, courseID, expiresAt); err != nil {
		e.logger.Printf("assign access: upsert user %d course %d failed: %v", userID, courseID, err)
		return false
	}

	e.cache.InvalidateAccess(userID, courseID)
	e.logger.Printf("access granted: user %d course %d (expires %d)", userID, courseID, expiresAt)
	return true
}

// RemoveAccess revokes the user's grant for the course. The grant row carries
// the expiration and access start, so revoking clears both; a later re-grant
// starts a fresh drip epoch.
func (e *Engine) RemoveAccess(userID, courseID uint) bool {
	if userID == 0 || courseID == 0 {
		return false
	}

	if err := e.grants.Remove(userID, courseID); err != nil {
		e.logger.Printf("remove access: user %d course %d failed: %v", userID, courseID, err)
		return false
	}

	e.cache.InvalidateAccess(userID, courseID)
	e.logger.Printf("access revoked: user %d course %d", userID, courseID)
	return true
}

// HasAccess reports whether the user may view the course. Administrators
// bypass the tag check entirely. Results are memoized with the cache TTL;
// an expired grant discovered here is removed on the spot.
func (e *Engine) HasAccess(userID, courseID uint) bool {
	if userID == 0 || courseID == 0 {
		return false
	}

	if admin, err := e.users.IsAdmin(userID); err == nil && admin {
		return true
	}

	if allowed, found := e.cache.AccessResult(userID, courseID); found {
		return e.applyFilter(userID, courseID, allowed)
	}

	allowed := e.checkGrant(userID, courseID)
	e.cache.SetAccessResult(userID, courseID, allowed)
	return e.applyFilter(userID, courseID, allowed)
}

func (e *Engine) checkGrant(userID, courseID uint) bool {
	grant, err := e.grants.Grant(userID, courseID)
	if err != nil {
		e.logger.Printf("access check: user %d course %d grant lookup failed: %v", userID, courseID, err)
		return false
	}
	if grant == nil {
		return false
	}

	if grant.ExpiresAt > 0 && e.now().Unix() > grant.ExpiresAt {
		// Lazy expiry: the read discovers it, the read enforces it.
		e.logger.Printf("access expired: user %d course %d", userID, courseID)
		e.RemoveAccess(userID, courseID)
		return false
	}
	return true
}

func (e *Engine) applyFilter(userID, courseID uint, allowed bool) bool {
	if e.AccessFilter == nil {
		return allowed
	}
	return e.AccessFilter(userID, courseID, allowed)
}

// Expiration returns the grant's expiration timestamp, 0 for lifetime access
// or no grant.
func (e *Engine) Expiration(userID, courseID uint) int64 {
	if userID == 0 || courseID == 0 {
		return 0
	}
	grant, err := e.grants.Grant(userID, courseID)
	if err != nil || grant == nil {
		return 0
	}
	return grant.ExpiresAt
}

// EnsureAccessStart returns the drip epoch for (user, course), stamping it
// lazily at first check when the user has access but no epoch yet. Returns 0
// when the user lacks access.
func (e *Engine) EnsureAccessStart(userID, courseID uint) int64 {
	if userID == 0 || courseID == 0 {
		return 0
	}

	grant, err := e.grants.Grant(userID, courseID)
	if err != nil {
		e.logger.Printf("access start: user %d course %d grant lookup failed: %v", userID, courseID, err)
		return 0
	}
	if grant != nil && grant.AccessStart > 0 {
		return grant.AccessStart
	}

	if !e.HasAccess(userID, courseID) {
		return 0
	}

	ts, err := e.grants.StampAccessStart(userID, courseID, e.now().UTC().Unix())
	if err != nil {
		e.logger.Printf("access start: user %d course %d stamp failed: %v", userID, courseID, err)
		return 0
	}
	return ts
}

// ModuleUnlockState evaluates the drip schedule for a module as seen by a
// user. Hierarchy breaks fail closed; unparsable dates and unknown modes fail
// open, surfaced as StateNoRestriction.
func (e *Engine) ModuleUnlockState(moduleID, userID uint) UnlockState {
	if moduleID == 0 {
		return StateLocked
	}

	module, err := e.entities.ModuleByID(moduleID)
	if err != nil {
		e.logger.Printf("unlock check: module %d lookup failed: %v", moduleID, err)
		return StateLocked
	}
	if module == nil || module.CourseID == 0 {
		return StateLocked
	}

	course, err := e.entities.CourseByID(module.CourseID)
	if err != nil {
		e.logger.Printf("unlock check: course %d lookup failed: %v", module.CourseID, err)
		return StateLocked
	}
	if course == nil {
		return StateLocked
	}

	switch course.AccessMode {
	case models.AccessModeFixedDate:
		return e.fixedDateState(course)
	case models.AccessModeDrip:
		return e.dripState(course, module, userID)
	case models.AccessModePurchase:
		return StateNoRestriction
	default:
		// Unknown modes do not gate content.
		return StateNoRestriction
	}
}

// IsModuleUnlocked is the boolean view of ModuleUnlockState.
func (e *Engine) IsModuleUnlocked(moduleID, userID uint) bool {
	return e.ModuleUnlockState(moduleID, userID).Unlocked()
}

func (e *Engine) fixedDateState(course *models.Course) UnlockState {
	if course.AccessFixedDate == "" {
		return StateNoRestriction
	}
	unlockAt, ok := parseFixedDate(course.AccessFixedDate)
	if !ok {
		// A misconfigured date must not strand users locked out.
		return StateNoRestriction
	}
	if e.now().Unix() >= unlockAt {
		return StateUnlocked
	}
	return StateLocked
}

func (e *Engine) dripState(course *models.Course, module *models.CourseModule, userID uint) UnlockState {
	if userID == 0 {
		return StateLocked
	}

	start := e.EnsureAccessStart(userID, course.ID)
	if start <= 0 {
		return StateLocked
	}

	if course.DripStrategy == models.DripStrategyInterval {
		if course.DripIntervalDays <= 0 {
			return StateNoRestriction
		}
		ordinal, ok := e.moduleOrdinal(course.ID, module.ID)
		if !ok {
			return StateLocked
		}
		return e.elapsedState(start, ordinal*course.DripIntervalDays)
	}

	// per_module strategy
	if module.DripMode == models.ModuleDripManual {
		if module.ManualUnlocked {
			return StateUnlocked
		}
		return StateLocked
	}
	return e.elapsedState(start, module.DripDays)
}

func (e *Engine) elapsedState(start int64, requiredDays int) UnlockState {
	if e.elapsedDays(start) >= requiredDays {
		return StateUnlocked
	}
	return StateLocked
}

func (e *Engine) elapsedDays(start int64) int {
	elapsed := e.now().Unix() - start
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / daySeconds)
}

// moduleOrdinal returns the module's zero-based position within the course's
// ordered module list, served by the cache handler.
func (e *Engine) moduleOrdinal(courseID, moduleID uint) (int, bool) {
	modules, err := e.cache.CourseModules(courseID)
	if err != nil {
		e.logger.Printf("unlock check: course %d modules load failed: %v", courseID, err)
		return 0, false
	}
	for i, m := range modules {
		if m.ID == moduleID {
			return i, true
		}
	}
	return 0, false
}

// ModuleUnlockInfo mirrors ModuleUnlockState but returns the computed unlock
// timestamp for UI display. UnlockAt is nil for purchase mode, manual mode
// and when the user has no drip epoch yet.
func (e *Engine) ModuleUnlockInfo(moduleID, userID uint) UnlockInfo {
	info := UnlockInfo{Mode: models.AccessModePurchase}
	if moduleID == 0 {
		return info
	}

	module, err := e.entities.ModuleByID(moduleID)
	if err != nil || module == nil || module.CourseID == 0 {
		return info
	}
	course, err := e.entities.CourseByID(module.CourseID)
	if err != nil || course == nil {
		return info
	}

	switch course.AccessMode {
	case models.AccessModeFixedDate:
		info.Mode = models.AccessModeFixedDate
		if ts, ok := parseFixedDate(course.AccessFixedDate); ok {
			info.UnlockAt = &ts
		}
	case models.AccessModeDrip:
		info.Mode = models.AccessModeDrip
		if course.DripStrategy != models.DripStrategyInterval && module.DripMode == models.ModuleDripManual {
			info.Mode = models.ModuleDripManual
			return info
		}
		start := e.EnsureAccessStart(userID, course.ID)
		if start <= 0 {
			return info
		}
		if course.DripStrategy == models.DripStrategyInterval {
			if course.DripIntervalDays <= 0 {
				return info
			}
			if ordinal, ok := e.moduleOrdinal(course.ID, module.ID); ok {
				ts := start + int64(ordinal*course.DripIntervalDays)*daySeconds
				info.UnlockAt = &ts
			}
			return info
		}
		ts := start + int64(module.DripDays)*daySeconds
		info.UnlockAt = &ts
	}
	return info
}

// UserHasAccessToLesson resolves lesson -> module -> course and combines
// course-level access with the module's drip unlock. Broken hierarchy links
// fail closed.
func (e *Engine) UserHasAccessToLesson(lessonID, userID uint) bool {
	if lessonID == 0 || userID == 0 {
		return false
	}

	lesson, err := e.entities.LessonByID(lessonID)
	if err != nil {
		e.logger.Printf("lesson access: lesson %d lookup failed: %v", lessonID, err)
		return false
	}
	if lesson == nil || lesson.ModuleID == 0 {
		return false
	}

	module, err := e.entities.ModuleByID(lesson.ModuleID)
	if err != nil {
		e.logger.Printf("lesson access: module %d lookup failed: %v", lesson.ModuleID, err)
		return false
	}
	if module == nil || module.CourseID == 0 {
		return false
	}

	return e.HasAccess(userID, module.CourseID) && e.IsModuleUnlocked(module.ID, userID)
}

// expirationFor computes the expiration timestamp a fresh grant gets, or 0
// for unlimited access. The duration window starts at the fixed unlock date
// when that date is still in the future; otherwise it starts now.
func (e *Engine) expirationFor(course *models.Course) int64 {
	days := durationDays(course)
	if days <= 0 {
		return 0
	}

	start := e.now().Unix()
	if course.AccessMode == models.AccessModeFixedDate {
		if ts, ok := parseFixedDate(course.AccessFixedDate); ok && ts > start {
			start = ts
		}
	}
	return start + int64(days)*daySeconds
}

func durationDays(course *models.Course) int {
	value := course.AccessDurationValue
	unit := course.AccessDurationUnit
	if value == 0 {
		// Legacy installs stored a plain day count.
		if course.AccessDurationDays > 0 {
			return course.AccessDurationDays
		}
		return 0
	}

	switch unit {
	case "weeks":
		return value * 7
	case "months":
		return value * 30
	case "years":
		return value * 365
	default:
		return value
	}
}

// parseFixedDate parses a YYYY-MM-DD course date as midnight GMT.
func parseFixedDate(value string) (int64, bool) {
	if value == "" {
		return 0, false
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}
