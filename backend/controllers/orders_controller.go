package controllers

import (
	"project/backend/access"
	"project/backend/config"
	"project/backend/models"
	"project/backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// OrdersController receives purchase lifecycle events from the storefront and
// maps them onto access grants: completed orders grant course access, orders
// leaving the completed state revoke it.
type OrdersController struct {
	DB     *gorm.DB
	Cfg    *config.Config
	Engine *access.Engine
}

func NewOrdersController(db *gorm.DB, cfg *config.Config, engine *access.Engine) *OrdersController {
	return &OrdersController{DB: db, Cfg: cfg, Engine: engine}
}

func grantingStatus(status string) bool {
	return status == "completed" || status == "processing"
}

func revokingStatus(status string) bool {
	switch status {
	case "cancelled", "refunded", "failed", "pending":
		return true
	}
	return false
}

// OrderEvent records an order status and applies the matching grant or
// revoke for every course line item.
func (oc *OrdersController) OrderEvent(c *fiber.Ctx) error {
	var input struct {
		ExternalID string `json:"external_id"`
		UserID     uint   `json:"user_id"`
		Status     string `json:"status"`
		CourseIDs  []uint `json:"course_ids"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Cannot parse JSON")
	}
	if input.UserID == 0 || len(input.CourseIDs) == 0 {
		return utils.BadRequest(c, "Missing user or course IDs")
	}
	if !grantingStatus(input.Status) && !revokingStatus(input.Status) {
		return utils.BadRequest(c, "Unknown order status")
	}

	order := models.Order{
		ExternalID: input.ExternalID,
		UserID:     input.UserID,
		Status:     input.Status,
	}
	for _, courseID := range input.CourseIDs {
		order.Items = append(order.Items, models.OrderItem{CourseID: courseID})
	}
	if err := oc.DB.Create(&order).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	granted := make([]uint, 0, len(input.CourseIDs))
	for _, courseID := range input.CourseIDs {
		if grantingStatus(input.Status) {
			if oc.Engine.AssignAccess(input.UserID, courseID) {
				granted = append(granted, courseID)
			}
		} else {
			oc.Engine.RemoveAccess(input.UserID, courseID)
		}
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"order_id": order.ID,
		"status":   order.Status,
		"granted":  granted,
	})
}
