package controllers

import (
	"errors"
	"strconv"
	"time"

	"project/backend/access"
	"project/backend/cache"
	"project/backend/config"
	"project/backend/limiter"
	"project/backend/models"
	"project/backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ProgressController struct {
	DB      *gorm.DB
	Cfg     *config.Config
	Engine  *access.Engine
	Cache   *cache.Handler
	Limiter limiter.Limiter
}

func NewProgressController(db *gorm.DB, cfg *config.Config, engine *access.Engine, ch *cache.Handler, lim limiter.Limiter) *ProgressController {
	return &ProgressController{DB: db, Cfg: cfg, Engine: engine, Cache: ch, Limiter: lim}
}

// ToggleLessonComplete flips a lesson's done flag for the caller. Capped per
// user per minute; excess toggles are rejected outright, no queuing.
func (pc *ProgressController) ToggleLessonComplete(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, pc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	lessonID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return utils.BadRequest(c, "Invalid lesson ID")
	}

	if !pc.Limiter.Allow(userID) {
		return utils.TooManyRequests(c, "Too many completion updates")
	}

	if !pc.Engine.UserHasAccessToLesson(uint(lessonID), userID) {
		return utils.Forbidden(c, "Lesson is not accessible")
	}

	var lesson models.Lesson
	if err := pc.DB.First(&lesson, lessonID).Error; err != nil {
		return utils.NotFound(c, "Lesson not found")
	}

	var module models.CourseModule
	if err := pc.DB.First(&module, lesson.ModuleID).Error; err != nil {
		return utils.NotFound(c, "Module not found")
	}

	var progress models.LessonProgress
	err = pc.DB.Where("user_id = ? AND lesson_id = ?", userID, lessonID).First(&progress).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusInternalServerError, err)
		}
		progress = models.LessonProgress{
			UserID:   userID,
			LessonID: uint(lessonID),
			CourseID: module.CourseID,
		}
	}

	progress.Done = !progress.Done
	if err := pc.DB.Save(&progress).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	if progress.Done {
		pc.DB.Create(&models.UserActivity{
			UserID:      userID,
			ActionType:  "lesson_complete",
			TargetID:    uint(lessonID),
			TargetTitle: lesson.Title,
		})
	}

	pc.updateCourseProgress(userID, module.CourseID)

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"lesson_id": lessonID,
		"done":      progress.Done,
	})
}

// updateCourseProgress recomputes the user's aggregate for the course from
// the per-lesson rows and the cached lesson count.
func (pc *ProgressController) updateCourseProgress(userID, courseID uint) {
	var completed int64
	pc.DB.Model(&models.LessonProgress{}).
		Where("user_id = ? AND course_id = ? AND done = ?", userID, courseID, true).
		Count(&completed)

	stats, err := pc.Cache.CourseStats(courseID)
	if err != nil {
		return
	}

	var progress models.UserCourseProgress
	err = pc.DB.Where("user_id = ? AND course_id = ?", userID, courseID).First(&progress).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return
		}
		progress = models.UserCourseProgress{UserID: userID, CourseID: courseID}
	}

	progress.LessonsCompleted = int(completed)
	if stats.Lessons > 0 {
		progress.CompletionRate = float64(completed) / float64(stats.Lessons) * 100
	}
	progress.LastAccessed = time.Now().Format(time.RFC3339)
	pc.DB.Save(&progress)
}

// GetCourseProgress returns the caller's aggregate for one course.
func (pc *ProgressController) GetCourseProgress(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, pc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return utils.BadRequest(c, "Invalid course ID")
	}

	var progress models.UserCourseProgress
	pc.DB.Where("user_id = ? AND course_id = ?", userID, courseID).First(&progress)

	return c.JSON(fiber.Map{
		"course_id":         courseID,
		"lessons_completed": progress.LessonsCompleted,
		"completion_rate":   progress.CompletionRate,
		"last_accessed":     progress.LastAccessed,
	})
}

// GetCourseAnalytics lists per-user progress for a course (admin view).
func (pc *ProgressController) GetCourseAnalytics(c *fiber.Ctx) error {
	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return utils.BadRequest(c, "Invalid course ID")
	}

	var progresses []models.UserCourseProgress
	if err := pc.DB.Where("course_id = ?", courseID).Find(&progresses).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	var users []fiber.Map
	for _, progress := range progresses {
		var user models.User
		if err := pc.DB.First(&user, progress.UserID).Error; err != nil {
			continue
		}

		users = append(users, fiber.Map{
			"user_id":           user.ID,
			"username":          user.Username,
			"lessons_completed": progress.LessonsCompleted,
			"completion_rate":   progress.CompletionRate,
		})
	}

	return c.JSON(fiber.Map{
		"analytics": users,
	})
}
