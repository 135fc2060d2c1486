package access

import (
	"project/backend/models"
)

// EntityStore resolves courses, modules and lessons. Lookups return
// (nil, nil) when the entity does not exist; errors are reserved for
// infrastructure failures.
type EntityStore interface {
	CourseByID(id uint) (*models.Course, error)
	ModuleByID(id uint) (*models.CourseModule, error)
	LessonByID(id uint) (*models.Lesson, error)
}

// GrantStore manages per-user course access grants. At most one grant exists
// per (user, course); writes keep that invariant.
type GrantStore interface {
	// Grant returns the grant row, or (nil, nil) when the user is not tagged.
	Grant(userID, courseID uint) (*models.CourseAccess, error)
	// Courses lists the course IDs the user is tagged for.
	Courses(userID uint) ([]uint, error)
	// Upsert creates the grant or updates its expiration. AccessStart is
	// preserved on update.
	Upsert(userID, courseID uint, expiresAt int64) error
	// Remove deletes the grant; removing an absent grant is a no-op.
	Remove(userID, courseID uint) error
	// StampAccessStart sets AccessStart to ts if it is currently unset and
	// returns the effective value. Idempotent by check.
	StampAccessStart(userID, courseID uint, ts int64) (int64, error)
	// Expired returns grants whose expiration has passed, for the sweep.
	Expired(now int64) ([]models.CourseAccess, error)
}

// UserStore answers capability questions about users.
type UserStore interface {
	IsAdmin(userID uint) (bool, error)
}
