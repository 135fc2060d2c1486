package controllers

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"project/backend/access"
	"project/backend/cache"
	"project/backend/config"
	"project/backend/models"
	"project/backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CoursesController struct {
	DB     *gorm.DB
	Cfg    *config.Config
	Engine *access.Engine
	Cache  *cache.Handler
}

func NewCoursesController(db *gorm.DB, cfg *config.Config, engine *access.Engine, ch *cache.Handler) *CoursesController {
	return &CoursesController{DB: db, Cfg: cfg, Engine: engine, Cache: ch}
}

// canEdit reports whether the user may author the course: its author or an
// administrator. Edit-capable users bypass the drip guards.
func (cc *CoursesController) canEdit(userID uint, course *models.Course) bool {
	if course.AuthorID == userID {
		return true
	}
	var user models.User
	if err := cc.DB.First(&user, userID).Error; err != nil {
		return false
	}
	return user.Role == "admin"
}

// touchCourse rolls the course's modified timestamp so versioned cache keys
// move forward. Mirrors what a real save of the course row would do.
func (cc *CoursesController) touchCourse(courseID uint) {
	cc.DB.Model(&models.Course{}).Where("id = ?", courseID).
		Update("updated_at", time.Now())
}

func (cc *CoursesController) touchModule(moduleID uint) {
	cc.DB.Model(&models.CourseModule{}).Where("id = ?", moduleID).
		Update("updated_at", time.Now())
}

func courseURL(courseID uint) string {
	return fmt.Sprintf("/courses/%d", courseID)
}

// GetAvailableCourses lists published courses with the caller's access flag.
func (cc *CoursesController) GetAvailableCourses(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	topic := c.Query("topic")

	query := cc.DB.Model(&models.Course{}).Where("status = 'publish'")
	if topic != "" {
		query = query.Where("topic LIKE ?", "%"+topic+"%")
	}

	var courses []models.Course
	query.Find(&courses)

	var result []fiber.Map
	for _, course := range courses {
		stats, _ := cc.Cache.CourseStats(course.ID)
		result = append(result, fiber.Map{
			"id":          course.ID,
			"title":       course.Title,
			"description": course.ShortDesc,
			"difficulty":  course.Difficulty,
			"topic":       course.Topic,
			"author":      course.AuthorID,
			"logo_url":    course.LogoURL,
			"access_mode": course.AccessMode,
			"modules":     stats.Modules,
			"lessons":     stats.Lessons,
			"has_access":  cc.Engine.HasAccess(userID, course.ID),
		})
	}

	return c.JSON(result)
}

// GetCourseDetails returns a course with its module list and per-module
// unlock info for the "available from" labels.
func (cc *CoursesController) GetCourseDetails(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	modules, err := cc.Cache.CourseModules(course.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var moduleViews []fiber.Map
	for _, m := range modules {
		info := cc.Engine.ModuleUnlockInfo(m.ID, userID)
		moduleViews = append(moduleViews, fiber.Map{
			"id":        m.ID,
			"title":     m.Title,
			"order":     m.SequenceOrder,
			"unlocked":  cc.Engine.IsModuleUnlocked(m.ID, userID),
			"unlock_at": info.UnlockAt,
			"mode":      info.Mode,
		})
	}

	return c.JSON(fiber.Map{
		"course": fiber.Map{
			"id":          course.ID,
			"title":       course.Title,
			"description": course.Description,
			"short_desc":  course.ShortDesc,
			"difficulty":  course.Difficulty,
			"topic":       course.Topic,
			"logo_url":    course.LogoURL,
			"author":      course.AuthorID,
			"access_mode": course.AccessMode,
		},
		"modules":    moduleViews,
		"has_access": cc.Engine.HasAccess(userID, course.ID),
	})
}

// GetCourseStats returns cached module/lesson counts.
func (cc *CoursesController) GetCourseStats(c *fiber.Ctx) error {
	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	stats, err := cc.Cache.CourseStats(uint(courseID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	return c.JSON(fiber.Map{
		"modules": stats.Modules,
		"lessons": stats.Lessons,
	})
}

// ViewModule serves a module page. Locked modules redirect to the course.
func (cc *CoursesController) ViewModule(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	moduleID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid module ID",
		})
	}

	var module models.CourseModule
	if err := cc.DB.First(&module, moduleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Module not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, module.CourseID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Course not found",
		})
	}

	if !cc.canEdit(userID, &course) && !cc.Engine.IsModuleUnlocked(module.ID, userID) {
		return c.Redirect(courseURL(course.ID), fiber.StatusFound)
	}

	lessons, err := cc.Cache.ModuleLessons(module.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	return c.JSON(fiber.Map{
		"module": fiber.Map{
			"id":          module.ID,
			"course_id":   module.CourseID,
			"title":       module.Title,
			"description": module.Description,
			"order":       module.SequenceOrder,
		},
		"lessons": lessons,
	})
}

// ViewLesson serves a lesson page. Users without course access or with the
// parent module still locked are redirected to the course page.
func (cc *CoursesController) ViewLesson(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	lessonID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lesson ID",
		})
	}

	var lesson models.Lesson
	if err := cc.DB.First(&lesson, lessonID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Lesson not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var module models.CourseModule
	if err := cc.DB.First(&module, lesson.ModuleID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Module not found",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, module.CourseID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Course not found",
		})
	}

	if !cc.canEdit(userID, &course) && !cc.Engine.UserHasAccessToLesson(lesson.ID, userID) {
		return c.Redirect(courseURL(course.ID), fiber.StatusFound)
	}

	return c.JSON(fiber.Map{
		"lesson": fiber.Map{
			"id":          lesson.ID,
			"module_id":   lesson.ModuleID,
			"title":       lesson.Title,
			"description": lesson.Description,
			"content":     lesson.Content,
			"order":       lesson.SequenceOrder,
		},
	})
}

// CreateCourse creates a course with its access schedule settings.
func (cc *CoursesController) CreateCourse(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	var course models.Course
	if err := c.BodyParser(&course); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	course.AuthorID = userID
	if course.AccessMode == "" {
		course.AccessMode = models.AccessModePurchase
	}

	if err := cc.DB.Create(&course).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create course",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Course created",
		"course":  course,
	})
}

// UpdateCourse updates course fields, including the access schedule.
func (cc *CoursesController) UpdateCourse(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var input struct {
		Title               *string `json:"title"`
		ShortDesc           *string `json:"short_desc"`
		Description         *string `json:"description"`
		Difficulty          *string `json:"difficulty"`
		Topic               *string `json:"topic"`
		LogoURL             *string `json:"logo_url"`
		Status              *string `json:"status"`
		AccessMode          *string `json:"access_mode"`
		AccessFixedDate     *string `json:"access_fixed_date"`
		DripStrategy        *string `json:"drip_strategy"`
		DripIntervalDays    *int    `json:"drip_interval_days"`
		AccessDurationValue *int    `json:"access_duration_value"`
		AccessDurationUnit  *string `json:"access_duration_unit"`
	}

	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	if !cc.canEdit(userID, &course) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have permission to edit this course",
		})
	}

	if input.Title != nil {
		course.Title = *input.Title
	}
	if input.ShortDesc != nil {
		course.ShortDesc = *input.ShortDesc
	}
	if input.Description != nil {
		course.Description = *input.Description
	}
	if input.Difficulty != nil {
		course.Difficulty = *input.Difficulty
	}
	if input.Topic != nil {
		course.Topic = *input.Topic
	}
	if input.LogoURL != nil {
		course.LogoURL = *input.LogoURL
	}
	if input.Status != nil {
		course.Status = *input.Status
	}
	if input.AccessMode != nil {
		course.AccessMode = *input.AccessMode
	}
	if input.AccessFixedDate != nil {
		course.AccessFixedDate = *input.AccessFixedDate
	}
	if input.DripStrategy != nil {
		course.DripStrategy = *input.DripStrategy
	}
	if input.DripIntervalDays != nil {
		course.DripIntervalDays = *input.DripIntervalDays
	}
	if input.AccessDurationValue != nil {
		course.AccessDurationValue = *input.AccessDurationValue
	}
	if input.AccessDurationUnit != nil {
		course.AccessDurationUnit = *input.AccessDurationUnit
	}

	if err := cc.DB.Save(&course).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not update course",
		})
	}

	cc.Cache.InvalidateCourse(course.ID)

	return c.JSON(fiber.Map{
		"message": "Course updated",
		"course":  course,
	})
}

// DeleteCourse removes a course and flushes its derived caches.
func (cc *CoursesController) DeleteCourse(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	if !cc.canEdit(userID, &course) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have permission to delete this course",
		})
	}

	// Invalidate while the row is still readable, then again after the
	// delete. Duplicate invalidation is harmless; a missed one is a bug.
	cc.Cache.InvalidateCourse(course.ID)

	if err := cc.DB.Delete(&course).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not delete course",
		})
	}

	cc.Cache.InvalidateCourse(course.ID)

	return c.JSON(fiber.Map{
		"message": "Course deleted",
	})
}

// AddModule appends a module to a course.
func (cc *CoursesController) AddModule(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var input struct {
		Title          string `json:"title"`
		Description    string `json:"description"`
		Status         string `json:"status"`
		DripMode       string `json:"drip_mode"`
		DripDays       int    `json:"drip_days"`
		ManualUnlocked bool   `json:"manual_unlocked"`
	}

	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	if !cc.canEdit(userID, &course) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have permission to edit this course",
		})
	}

	var moduleCount int64
	cc.DB.Model(&models.CourseModule{}).Where("course_id = ?", courseID).Count(&moduleCount)

	module := models.CourseModule{
		CourseID:       uint(courseID),
		Title:          input.Title,
		Description:    input.Description,
		Status:         input.Status,
		SequenceOrder:  int(moduleCount) + 1,
		DripMode:       input.DripMode,
		DripDays:       input.DripDays,
		ManualUnlocked: input.ManualUnlocked,
	}
	if module.Status == "" {
		module.Status = "publish"
	}
	if module.DripMode == "" {
		module.DripMode = models.ModuleDripDays
	}

	if err := cc.DB.Create(&module).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create module",
		})
	}

	cc.touchCourse(uint(courseID))
	cc.Cache.InvalidateModule(module.ID, uint(courseID))

	return c.JSON(fiber.Map{
		"message": "Module added",
		"module":  module,
	})
}

// UpdateModule updates a module's fields. Moving a module to another course
// invalidates both the old and the new parent's derived caches.
func (cc *CoursesController) UpdateModule(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	moduleID, err := strconv.Atoi(c.Params("moduleId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid module ID",
		})
	}

	var input struct {
		Title          *string `json:"title"`
		Description    *string `json:"description"`
		Status         *string `json:"status"`
		SequenceOrder  *int    `json:"sequence_order"`
		DripMode       *string `json:"drip_mode"`
		DripDays       *int    `json:"drip_days"`
		ManualUnlocked *bool   `json:"manual_unlocked"`
		CourseID       *uint   `json:"course_id"`
	}

	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	var module models.CourseModule
	if err := cc.DB.First(&module, moduleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Module not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, module.CourseID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Course not found",
		})
	}

	if !cc.canEdit(userID, &course) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have permission to edit this course",
		})
	}

	// Capture the pre-write parent: a move invalidates both aggregates.
	oldCourseID := module.CourseID

	if input.Title != nil {
		module.Title = *input.Title
	}
	if input.Description != nil {
		module.Description = *input.Description
	}
	if input.Status != nil {
		module.Status = *input.Status
	}
	if input.SequenceOrder != nil {
		module.SequenceOrder = *input.SequenceOrder
	}
	if input.DripMode != nil {
		module.DripMode = *input.DripMode
	}
	if input.DripDays != nil {
		module.DripDays = *input.DripDays
	}
	if input.ManualUnlocked != nil {
		module.ManualUnlocked = *input.ManualUnlocked
	}
	if input.CourseID != nil && *input.CourseID != 0 {
		module.CourseID = *input.CourseID
	}

	if err := cc.DB.Save(&module).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not update module",
		})
	}

	cc.touchCourse(module.CourseID)
	cc.Cache.InvalidateModule(module.ID, module.CourseID)
	if oldCourseID != module.CourseID {
		cc.touchCourse(oldCourseID)
		cc.Cache.InvalidateCourse(oldCourseID)
	}

	return c.JSON(fiber.Map{
		"message": "Module updated",
		"module":  module,
	})
}

// ReorderModules applies a new module order for a course. The batch of child
// writes ends with a course touch so the version key rolls forward.
func (cc *CoursesController) ReorderModules(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var input struct {
		ModuleIDs []uint `json:"module_ids"`
	}
	if err := c.BodyParser(&input); err != nil || len(input.ModuleIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	if !cc.canEdit(userID, &course) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have permission to edit this course",
		})
	}

	for i, moduleID := range input.ModuleIDs {
		cc.DB.Model(&models.CourseModule{}).
			Where("id = ? AND course_id = ?", moduleID, courseID).
			Update("sequence_order", i+1)
	}

	cc.touchCourse(uint(courseID))
	cc.Cache.InvalidateCourse(uint(courseID))

	return c.JSON(fiber.Map{
		"message": "Modules reordered",
	})
}

// DeleteModule removes a module. Invalidation runs before the delete, while
// the parent link is still readable, and again after.
func (cc *CoursesController) DeleteModule(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	moduleID, err := strconv.Atoi(c.Params("moduleId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid module ID",
		})
	}

	var module models.CourseModule
	if err := cc.DB.First(&module, moduleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Module not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, module.CourseID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Course not found",
		})
	}

	if !cc.canEdit(userID, &course) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have permission to edit this course",
		})
	}

	cc.Cache.InvalidateModule(module.ID, module.CourseID)

	if err := cc.DB.Delete(&module).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not delete module",
		})
	}

	cc.touchCourse(module.CourseID)
	cc.Cache.InvalidateModule(module.ID, module.CourseID)

	return c.JSON(fiber.Map{
		"message": "Module deleted",
	})
}

// AddLesson appends a lesson to a module.
func (cc *CoursesController) AddLesson(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	moduleID, err := strconv.Atoi(c.Params("moduleId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid module ID",
		})
	}

	var input struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Content     string `json:"content"`
		Status      string `json:"status"`
	}

	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	var module models.CourseModule
	if err := cc.DB.First(&module, moduleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Module not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, module.CourseID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Course not found",
		})
	}

	if !cc.canEdit(userID, &course) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have permission to edit this course",
		})
	}

	var lessonCount int64
	cc.DB.Model(&models.Lesson{}).Where("module_id = ?", moduleID).Count(&lessonCount)

	lesson := models.Lesson{
		ModuleID:      uint(moduleID),
		Title:         input.Title,
		Description:   input.Description,
		Content:       input.Content,
		Status:        input.Status,
		SequenceOrder: int(lessonCount) + 1,
	}
	if lesson.Status == "" {
		lesson.Status = "publish"
	}

	if err := cc.DB.Create(&lesson).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create lesson",
		})
	}

	cc.touchModule(uint(moduleID))
	cc.Cache.InvalidateLesson(uint(moduleID), module.CourseID)

	return c.JSON(fiber.Map{
		"message": "Lesson added",
		"lesson":  lesson,
	})
}

// UpdateLesson updates a lesson. Moving a lesson to another module
// invalidates both the old and the new parent's derived caches.
func (cc *CoursesController) UpdateLesson(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	lessonID, err := strconv.Atoi(c.Params("lessonId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lesson ID",
		})
	}

	var input struct {
		Title         *string `json:"title"`
		Description   *string `json:"description"`
		Content       *string `json:"content"`
		Status        *string `json:"status"`
		SequenceOrder *int    `json:"sequence_order"`
		ModuleID      *uint   `json:"module_id"`
	}

	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	var lesson models.Lesson
	if err := cc.DB.First(&lesson, lessonID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Lesson not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var oldModule models.CourseModule
	if err := cc.DB.First(&oldModule, lesson.ModuleID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Module not found",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, oldModule.CourseID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Course not found",
		})
	}

	if !cc.canEdit(userID, &course) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have permission to edit this course",
		})
	}

	oldModuleID := lesson.ModuleID

	if input.Title != nil {
		lesson.Title = *input.Title
	}
	if input.Description != nil {
		lesson.Description = *input.Description
	}
	if input.Content != nil {
		lesson.Content = *input.Content
	}
	if input.Status != nil {
		lesson.Status = *input.Status
	}
	if input.SequenceOrder != nil {
		lesson.SequenceOrder = *input.SequenceOrder
	}
	if input.ModuleID != nil && *input.ModuleID != 0 {
		lesson.ModuleID = *input.ModuleID
	}

	if err := cc.DB.Save(&lesson).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not update lesson",
		})
	}

	cc.touchModule(lesson.ModuleID)
	cc.Cache.InvalidateLesson(lesson.ModuleID, oldModule.CourseID)
	if oldModuleID != lesson.ModuleID {
		var newModule models.CourseModule
		if err := cc.DB.First(&newModule, lesson.ModuleID).Error; err == nil {
			cc.Cache.InvalidateLesson(newModule.ID, newModule.CourseID)
		}
		cc.touchModule(oldModuleID)
		cc.Cache.InvalidateLesson(oldModuleID, oldModule.CourseID)
	}

	return c.JSON(fiber.Map{
		"message": "Lesson updated",
		"lesson":  lesson,
	})
}

// DeleteLesson removes a lesson, invalidating before and after the delete.
func (cc *CoursesController) DeleteLesson(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	lessonID, err := strconv.Atoi(c.Params("lessonId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lesson ID",
		})
	}

	var lesson models.Lesson
	if err := cc.DB.First(&lesson, lessonID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Lesson not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var module models.CourseModule
	if err := cc.DB.First(&module, lesson.ModuleID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Module not found",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, module.CourseID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Course not found",
		})
	}

	if !cc.canEdit(userID, &course) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have permission to edit this course",
		})
	}

	cc.Cache.InvalidateLesson(module.ID, module.CourseID)

	if err := cc.DB.Delete(&lesson).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not delete lesson",
		})
	}

	cc.touchModule(module.ID)
	cc.Cache.InvalidateLesson(module.ID, module.CourseID)

	return c.JSON(fiber.Map{
		"message": "Lesson deleted",
	})
}

// FlushCache is the manual escape hatch: bumps the global cache version.
func (cc *CoursesController) FlushCache(c *fiber.Ctx) error {
	cc.Cache.BumpVersion()
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "Cache version bumped",
	})
}
