package controllers

import (
	"strconv"

	"project/backend/access"
	"project/backend/config"
	"project/backend/models"
	"project/backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AccessController struct {
	DB     *gorm.DB
	Cfg    *config.Config
	Engine *access.Engine
	Grants access.GrantStore
}

func NewAccessController(db *gorm.DB, cfg *config.Config, engine *access.Engine, grants access.GrantStore) *AccessController {
	return &AccessController{DB: db, Cfg: cfg, Engine: engine, Grants: grants}
}

// GrantAccess manually tags a user for a course (admin edit path).
func (ac *AccessController) GrantAccess(c *fiber.Ctx) error {
	var input struct {
		UserID   uint `json:"user_id"`
		CourseID uint `json:"course_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Cannot parse JSON")
	}

	if !ac.Engine.AssignAccess(input.UserID, input.CourseID) {
		return utils.BadRequest(c, "Could not grant access")
	}

	ac.DB.Create(&models.UserActivity{
		UserID:     input.UserID,
		ActionType: "access_granted",
		TargetID:   input.CourseID,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"user_id":    input.UserID,
		"course_id":  input.CourseID,
		"expires_at": ac.Engine.Expiration(input.UserID, input.CourseID),
	})
}

// RevokeAccess removes a user's grant for a course.
func (ac *AccessController) RevokeAccess(c *fiber.Ctx) error {
	var input struct {
		UserID   uint `json:"user_id"`
		CourseID uint `json:"course_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Cannot parse JSON")
	}

	if !ac.Engine.RemoveAccess(input.UserID, input.CourseID) {
		return utils.BadRequest(c, "Could not revoke access")
	}

	ac.DB.Create(&models.UserActivity{
		UserID:     input.UserID,
		ActionType: "access_revoked",
		TargetID:   input.CourseID,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"user_id":   input.UserID,
		"course_id": input.CourseID,
	})
}

// ListUserAccess lists the course IDs a user is tagged for.
func (ac *AccessController) ListUserAccess(c *fiber.Ctx) error {
	userID, err := strconv.Atoi(c.Params("userId"))
	if err != nil || userID <= 0 {
		return utils.BadRequest(c, "Invalid user ID")
	}

	courses, err := ac.Grants.Courses(uint(userID))
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"user_id": userID,
		"courses": courses,
	})
}

// CheckAccess reports whether the caller may view a course.
func (ac *AccessController) CheckAccess(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, ac.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return utils.BadRequest(c, "Invalid course ID")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"course_id":  courseID,
		"has_access": ac.Engine.HasAccess(userID, uint(courseID)),
		"expires_at": ac.Engine.Expiration(userID, uint(courseID)),
	})
}

// ModuleUnlock reports a module's unlock state and timestamp for the caller.
func (ac *AccessController) ModuleUnlock(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, ac.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	moduleID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return utils.BadRequest(c, "Invalid module ID")
	}

	state := ac.Engine.ModuleUnlockState(uint(moduleID), userID)
	info := ac.Engine.ModuleUnlockInfo(uint(moduleID), userID)

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"module_id": moduleID,
		"state":     state.String(),
		"unlocked":  state.Unlocked(),
		"unlock_at": info.UnlockAt,
		"mode":      info.Mode,
	})
}
