package models

import "gorm.io/gorm"

// Access schedule modes for a course.
const (
	AccessModePurchase  = "purchase"
	AccessModeFixedDate = "fixed_date"
	AccessModeDrip      = "drip"
)

// Drip strategies, used when AccessMode == drip.
const (
	DripStrategyInterval  = "interval"
	DripStrategyPerModule = "per_module"
)

// Per-module drip modes, used when the course strategy is per_module.
const (
	ModuleDripDays   = "days"
	ModuleDripManual = "manual"
)

type Course struct {
	gorm.Model
	Title       string
	ShortDesc   string
	Description string
	Difficulty  string // beginner, intermediate, advanced
	Topic       string
	AuthorID    uint
	LogoURL     string
	Status      string `gorm:"default:publish"` // publish, draft

	// Access scheduling
	AccessMode       string `gorm:"default:purchase"` // purchase, fixed_date, drip
	AccessFixedDate  string // YYYY-MM-DD, used when AccessMode == fixed_date
	DripStrategy     string `gorm:"default:interval"` // interval, per_module
	DripIntervalDays int

	// Access lifetime granted at assignment time; value 0 = unlimited.
	AccessDurationValue int
	AccessDurationUnit  string `gorm:"default:days"` // days, weeks, months, years
	// Legacy field, consulted only when AccessDurationValue == 0.
	AccessDurationDays int

	Modules []CourseModule
}

type CourseModule struct {
	gorm.Model
	CourseID      uint `gorm:"index"`
	Title         string
	Description   string
	Status        string `gorm:"default:publish"` // publish, draft
	SequenceOrder int

	// Per-module drip settings, used when the course strategy is per_module.
	DripMode       string `gorm:"default:days"` // days, manual
	DripDays       int
	ManualUnlocked bool

	Lessons []Lesson `gorm:"foreignKey:ModuleID"`
}

type Lesson struct {
	gorm.Model
	ModuleID      uint `gorm:"index"`
	Title         string
	Description   string
	Content       string
	Status        string `gorm:"default:publish"` // publish, draft
	SequenceOrder int
}

type UserCourseProgress struct {
	gorm.Model
	UserID           uint `gorm:"index"`
	CourseID         uint `gorm:"index"`
	LessonsCompleted int
	HoursSpent       float64
	LastAccessed     string
	CompletionRate   float64
}

type LessonProgress struct {
	gorm.Model
	UserID   uint `gorm:"uniqueIndex:idx_user_lesson"`
	LessonID uint `gorm:"uniqueIndex:idx_user_lesson"`
	CourseID uint `gorm:"index"`
	Done     bool `gorm:"default:false"`
}
