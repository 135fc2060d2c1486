package routes

import (
	"time"

	"project/backend/access"
	"project/backend/cache"
	"project/backend/config"
	"project/backend/controllers"
	"project/backend/limiter"
	"project/backend/middleware"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, cfg *config.Config, engine *access.Engine, ch *cache.Handler, grants access.GrantStore) {
	// Auth routes
	authController := controllers.NewAuthController(db, cfg)
	app.Post("/api/auth/register", authController.Register)
	app.Post("/api/auth/login", authController.Login)

	// Middleware
	authMiddleware := middleware.AuthMiddleware(cfg)
	adminMiddleware := middleware.AdminMiddleware(db, cfg)

	// Courses routes
	coursesController := controllers.NewCoursesController(db, cfg, engine, ch)
	courses := app.Group("/api/courses", authMiddleware)
	courses.Get("/", coursesController.GetAvailableCourses)
	courses.Get("/:id", coursesController.GetCourseDetails)
	courses.Get("/:id/stats", coursesController.GetCourseStats)

	// Module and lesson pages (drip guard applies)
	app.Get("/api/modules/:id", authMiddleware, coursesController.ViewModule)
	app.Get("/api/lessons/:id", authMiddleware, coursesController.ViewLesson)

	// Access routes
	accessController := controllers.NewAccessController(db, cfg, engine, grants)
	courses.Get("/:id/access", accessController.CheckAccess)
	app.Get("/api/modules/:id/unlock", authMiddleware, accessController.ModuleUnlock)

	// Order events from the storefront
	ordersController := controllers.NewOrdersController(db, cfg, engine)
	app.Post("/api/orders/event", adminMiddleware, ordersController.OrderEvent)

	// Progress routes
	completionLimiter := limiter.NewFixedWindow(cfg.CompletionRateLimit, time.Minute)
	progressController := controllers.NewProgressController(db, cfg, engine, ch, completionLimiter)
	app.Post("/api/lessons/:id/complete", authMiddleware, progressController.ToggleLessonComplete)
	courses.Get("/:id/progress", progressController.GetCourseProgress)

	// Admin routes for content authoring
	adminCourses := app.Group("/api/admin/courses", authMiddleware, adminMiddleware)
	adminCourses.Post("/", coursesController.CreateCourse)
	adminCourses.Put("/:id", coursesController.UpdateCourse)
	adminCourses.Delete("/:id", coursesController.DeleteCourse)
	adminCourses.Post("/:id/modules", coursesController.AddModule)
	adminCourses.Put("/:id/modules/:moduleId", coursesController.UpdateModule)
	adminCourses.Delete("/:id/modules/:moduleId", coursesController.DeleteModule)
	adminCourses.Put("/:id/modules-order", coursesController.ReorderModules)
	adminCourses.Post("/:id/modules/:moduleId/lessons", coursesController.AddLesson)
	adminCourses.Put("/:id/lessons/:lessonId", coursesController.UpdateLesson)
	adminCourses.Delete("/:id/lessons/:lessonId", coursesController.DeleteLesson)
	adminCourses.Get("/:id/analytics", progressController.GetCourseAnalytics)

	// Admin routes for access management
	adminAccess := app.Group("/api/admin/access", authMiddleware, adminMiddleware)
	adminAccess.Post("/grant", accessController.GrantAccess)
	adminAccess.Post("/revoke", accessController.RevokeAccess)
	adminAccess.Get("/users/:userId", accessController.ListUserAccess)

	// Manual cache escape hatch
	app.Post("/api/admin/cache/flush", authMiddleware, adminMiddleware, coursesController.FlushCache)
}
