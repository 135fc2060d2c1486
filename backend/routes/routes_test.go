package routes_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"project/backend/access"
	"project/backend/cache"
	"project/backend/config"
	"project/backend/models"
	"project/backend/routes"
	"project/backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testApp struct {
	app    *fiber.App
	db     *gorm.DB
	cfg    *config.Config
	engine *access.Engine
	cache  *cache.Handler

	admin models.User
	user  models.User
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, utils.Migrate(db))

	cfg := &config.Config{
		JWTSecret:           "test-secret",
		CacheTTLHours:       12,
		SweepIntervalHours:  24,
		CompletionRateLimit: 3,
	}

	entities := access.NewGormEntityStore(db)
	grants := access.NewGormGrantStore(db)
	users := access.NewGormUserStore(db)
	ch := cache.NewHandler(entities, 12*time.Hour)
	engine := access.NewEngine(entities, grants, users, ch, log.New(io.Discard, "", 0))

	app := fiber.New()
	routes.SetupRoutes(app, db, cfg, engine, ch, grants)

	ta := &testApp{app: app, db: db, cfg: cfg, engine: engine, cache: ch}

	ta.admin = models.User{Username: "admin", Email: "admin@example.com", PasswordHash: "x", Role: "admin"}
	require.NoError(t, db.Create(&ta.admin).Error)
	ta.user = models.User{Username: "student", Email: "student@example.com", PasswordHash: "x", Role: "user"}
	require.NoError(t, db.Create(&ta.user).Error)

	return ta
}

func (ta *testApp) token(t *testing.T, user models.User) string {
	t.Helper()
	token, err := utils.GenerateJWTToken(user.ID, ta.cfg)
	require.NoError(t, err)
	return token
}

func (ta *testApp) request(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var envelope struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	return envelope.Data
}

func (ta *testApp) createDripCourse(t *testing.T, intervalDays int) (models.Course, []models.CourseModule) {
	t.Helper()

	course := models.Course{
		Title:            "Dripped",
		Status:           "publish",
		AccessMode:       models.AccessModeDrip,
		DripStrategy:     models.DripStrategyInterval,
		DripIntervalDays: intervalDays,
	}
	require.NoError(t, ta.db.Create(&course).Error)

	modules := make([]models.CourseModule, 2)
	for i := range modules {
		modules[i] = models.CourseModule{
			CourseID:      course.ID,
			Title:         fmt.Sprintf("Module %d", i+1),
			Status:        "publish",
			SequenceOrder: i + 1,
			DripMode:      models.ModuleDripDays,
		}
		require.NoError(t, ta.db.Create(&modules[i]).Error)
	}
	return course, modules
}

func TestRoutesRequireAuth(t *testing.T) {
	ta := newTestApp(t)

	resp := ta.request(t, fiber.MethodGet, "/api/courses/", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = ta.request(t, fiber.MethodGet, "/api/modules/1", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestGrantRevokeRoundTrip(t *testing.T) {
	ta := newTestApp(t)
	course := models.Course{Title: "Go", Status: "publish", AccessMode: models.AccessModePurchase}
	require.NoError(t, ta.db.Create(&course).Error)

	adminToken := ta.token(t, ta.admin)
	userToken := ta.token(t, ta.user)
	accessPath := fmt.Sprintf("/api/courses/%d/access", course.ID)

	resp := ta.request(t, fiber.MethodGet, accessPath, userToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeData(t, resp)["has_access"])

	grant := fiber.Map{"user_id": ta.user.ID, "course_id": course.ID}
	resp = ta.request(t, fiber.MethodPost, "/api/admin/access/grant", adminToken, grant)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = ta.request(t, fiber.MethodGet, accessPath, userToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeData(t, resp)["has_access"])

	resp = ta.request(t, fiber.MethodPost, "/api/admin/access/revoke", adminToken, grant)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = ta.request(t, fiber.MethodGet, accessPath, userToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeData(t, resp)["has_access"])
}

func TestGrantRequiresAdmin(t *testing.T) {
	ta := newTestApp(t)

	grant := fiber.Map{"user_id": ta.user.ID, "course_id": 1}
	resp := ta.request(t, fiber.MethodPost, "/api/admin/access/grant", ta.token(t, ta.user), grant)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestListUserAccess(t *testing.T) {
	ta := newTestApp(t)
	course := models.Course{Title: "Go", Status: "publish", AccessMode: models.AccessModePurchase}
	require.NoError(t, ta.db.Create(&course).Error)
	require.True(t, ta.engine.AssignAccess(ta.user.ID, course.ID))

	path := fmt.Sprintf("/api/admin/access/users/%d", ta.user.ID)
	resp := ta.request(t, fiber.MethodGet, path, ta.token(t, ta.admin), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data := decodeData(t, resp)
	courses, ok := data["courses"].([]interface{})
	require.True(t, ok)
	require.Len(t, courses, 1)
	assert.EqualValues(t, course.ID, courses[0].(float64))
}

func TestListUserAccessRejectsNonPositiveID(t *testing.T) {
	ta := newTestApp(t)
	adminToken := ta.token(t, ta.admin)

	resp := ta.request(t, fiber.MethodGet, "/api/admin/access/users/-1", adminToken, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = ta.request(t, fiber.MethodGet, "/api/admin/access/users/0", adminToken, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDrippedModuleRedirects(t *testing.T) {
	ta := newTestApp(t)
	course, modules := ta.createDripCourse(t, 5)
	require.True(t, ta.engine.AssignAccess(ta.user.ID, course.ID))

	userToken := ta.token(t, ta.user)

	// First module: epoch starts now, ordinal 0, open immediately.
	resp := ta.request(t, fiber.MethodGet, fmt.Sprintf("/api/modules/%d", modules[0].ID), userToken, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Second module: locked for 5 more days, guard bounces to the course page.
	resp = ta.request(t, fiber.MethodGet, fmt.Sprintf("/api/modules/%d", modules[1].ID), userToken, nil)
	require.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("/courses/%d", course.ID), resp.Header.Get("Location"))
}

func TestAdminBypassesDripGuard(t *testing.T) {
	ta := newTestApp(t)
	_, modules := ta.createDripCourse(t, 5)

	resp := ta.request(t, fiber.MethodGet, fmt.Sprintf("/api/modules/%d", modules[1].ID), ta.token(t, ta.admin), nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestDrippedLessonRedirects(t *testing.T) {
	ta := newTestApp(t)
	course, modules := ta.createDripCourse(t, 5)

	open := models.Lesson{ModuleID: modules[0].ID, Title: "L1", Status: "publish", SequenceOrder: 1}
	locked := models.Lesson{ModuleID: modules[1].ID, Title: "L2", Status: "publish", SequenceOrder: 1}
	require.NoError(t, ta.db.Create(&open).Error)
	require.NoError(t, ta.db.Create(&locked).Error)

	require.True(t, ta.engine.AssignAccess(ta.user.ID, course.ID))
	userToken := ta.token(t, ta.user)

	resp := ta.request(t, fiber.MethodGet, fmt.Sprintf("/api/lessons/%d", open.ID), userToken, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = ta.request(t, fiber.MethodGet, fmt.Sprintf("/api/lessons/%d", locked.ID), userToken, nil)
	require.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("/courses/%d", course.ID), resp.Header.Get("Location"))
}

func TestModuleUnlockEndpoint(t *testing.T) {
	ta := newTestApp(t)
	course, modules := ta.createDripCourse(t, 5)
	require.True(t, ta.engine.AssignAccess(ta.user.ID, course.ID))

	resp := ta.request(t, fiber.MethodGet, fmt.Sprintf("/api/modules/%d/unlock", modules[1].ID), ta.token(t, ta.user), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data := decodeData(t, resp)
	assert.Equal(t, "locked", data["state"])
	assert.Equal(t, false, data["unlocked"])
	assert.Equal(t, models.AccessModeDrip, data["mode"])
	assert.NotNil(t, data["unlock_at"])
}

func TestReorderModulesRefreshesCachedOrder(t *testing.T) {
	ta := newTestApp(t)
	course, modules := ta.createDripCourse(t, 5)

	// Warm the cache with the original order.
	before, err := ta.cache.CourseModules(course.ID)
	require.NoError(t, err)
	require.Len(t, before, 2)
	require.Equal(t, modules[0].ID, before[0].ID)

	var beforeSave models.Course
	require.NoError(t, ta.db.First(&beforeSave, course.ID).Error)

	body := fiber.Map{"module_ids": []uint{modules[1].ID, modules[0].ID}}
	path := fmt.Sprintf("/api/admin/courses/%d/modules-order", course.ID)
	resp := ta.request(t, fiber.MethodPut, path, ta.token(t, ta.admin), body)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// The batch of sequence writes must conclude by rolling the course's
	// modified timestamp, so versioned cache keys move forward.
	var afterSave models.Course
	require.NoError(t, ta.db.First(&afterSave, course.ID).Error)
	assert.True(t, afterSave.UpdatedAt.After(beforeSave.UpdatedAt))

	// A fresh read sees the new order; drip ordinals follow it.
	after, err := ta.cache.CourseModules(course.ID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, modules[1].ID, after[0].ID)
	assert.Equal(t, modules[0].ID, after[1].ID)
}

func TestOrderEventGrantsAndRevokes(t *testing.T) {
	ta := newTestApp(t)
	course := models.Course{Title: "Go", Status: "publish", AccessMode: models.AccessModePurchase}
	require.NoError(t, ta.db.Create(&course).Error)

	adminToken := ta.token(t, ta.admin)

	event := fiber.Map{
		"external_id": "wc-1001",
		"user_id":     ta.user.ID,
		"status":      "completed",
		"course_ids":  []uint{course.ID},
	}
	resp := ta.request(t, fiber.MethodPost, "/api/orders/event", adminToken, event)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, ta.engine.HasAccess(ta.user.ID, course.ID))

	event["external_id"] = "wc-1001-refund"
	event["status"] = "refunded"
	resp = ta.request(t, fiber.MethodPost, "/api/orders/event", adminToken, event)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.False(t, ta.engine.HasAccess(ta.user.ID, course.ID))
}

func TestOrderEventRejectsUnknownStatus(t *testing.T) {
	ta := newTestApp(t)

	event := fiber.Map{
		"external_id": "wc-1002",
		"user_id":     ta.user.ID,
		"status":      "on-hold-custom",
		"course_ids":  []uint{1},
	}
	resp := ta.request(t, fiber.MethodPost, "/api/orders/event", ta.token(t, ta.admin), event)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCompletionRateLimit(t *testing.T) {
	ta := newTestApp(t)
	course := models.Course{Title: "Go", Status: "publish", AccessMode: models.AccessModePurchase}
	require.NoError(t, ta.db.Create(&course).Error)
	module := models.CourseModule{CourseID: course.ID, Title: "M", Status: "publish", SequenceOrder: 1}
	require.NoError(t, ta.db.Create(&module).Error)
	lesson := models.Lesson{ModuleID: module.ID, Title: "L", Status: "publish", SequenceOrder: 1}
	require.NoError(t, ta.db.Create(&lesson).Error)

	require.True(t, ta.engine.AssignAccess(ta.user.ID, course.ID))
	userToken := ta.token(t, ta.user)
	path := fmt.Sprintf("/api/lessons/%d/complete", lesson.ID)

	// CompletionRateLimit is 3 in the test config.
	for i := 0; i < 3; i++ {
		resp := ta.request(t, fiber.MethodPost, path, userToken, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp := ta.request(t, fiber.MethodPost, path, userToken, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestCompletionRequiresAccess(t *testing.T) {
	ta := newTestApp(t)
	course := models.Course{Title: "Go", Status: "publish", AccessMode: models.AccessModePurchase}
	require.NoError(t, ta.db.Create(&course).Error)
	module := models.CourseModule{CourseID: course.ID, Title: "M", Status: "publish", SequenceOrder: 1}
	require.NoError(t, ta.db.Create(&module).Error)
	lesson := models.Lesson{ModuleID: module.ID, Title: "L", Status: "publish", SequenceOrder: 1}
	require.NoError(t, ta.db.Create(&lesson).Error)

	path := fmt.Sprintf("/api/lessons/%d/complete", lesson.ID)
	resp := ta.request(t, fiber.MethodPost, path, ta.token(t, ta.user), nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestCacheFlushRequiresAdmin(t *testing.T) {
	ta := newTestApp(t)

	resp := ta.request(t, fiber.MethodPost, "/api/admin/cache/flush", ta.token(t, ta.user), nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = ta.request(t, fiber.MethodPost, "/api/admin/cache/flush", ta.token(t, ta.admin), nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
