package access_test

import (
	"testing"

	"project/backend/access"
	"project/backend/models"
	"project/backend/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, utils.Migrate(db))
	return db
}

func TestLoadCourseModulesOrdering(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormEntityStore(db)

	course := models.Course{Title: "Go", AccessMode: models.AccessModePurchase}
	require.NoError(t, db.Create(&course).Error)

	// Deliberately created out of order, with a sequence_order tie.
	modules := []models.CourseModule{
		{CourseID: course.ID, Title: "Third", Status: "publish", SequenceOrder: 3},
		{CourseID: course.ID, Title: "First", Status: "publish", SequenceOrder: 1},
		{CourseID: course.ID, Title: "Tied A", Status: "publish", SequenceOrder: 2},
		{CourseID: course.ID, Title: "Tied B", Status: "publish", SequenceOrder: 2},
	}
	for i := range modules {
		require.NoError(t, db.Create(&modules[i]).Error)
	}

	entries, err := store.LoadCourseModules(course.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "First", entries[0].Title)
	// Ties break on id, i.e. creation order.
	assert.Equal(t, "Tied A", entries[1].Title)
	assert.Equal(t, "Tied B", entries[2].Title)
	assert.Equal(t, "Third", entries[3].Title)
}

func TestLoadCourseModulesStatusFilter(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormEntityStore(db)

	course := models.Course{Title: "Go", AccessMode: models.AccessModePurchase}
	require.NoError(t, db.Create(&course).Error)

	modules := []models.CourseModule{
		{CourseID: course.ID, Title: "Published", Status: "publish", SequenceOrder: 1},
		{CourseID: course.ID, Title: "Draft", Status: "draft", SequenceOrder: 2},
		{CourseID: course.ID, Title: "Trashed", Status: "trash", SequenceOrder: 3},
	}
	for i := range modules {
		require.NoError(t, db.Create(&modules[i]).Error)
	}

	entries, err := store.LoadCourseModules(course.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Published", entries[0].Title)
	assert.Equal(t, "Draft", entries[1].Title)
}

func TestLoadModuleLessonsOrdering(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormEntityStore(db)

	module := models.CourseModule{CourseID: 1, Title: "M", Status: "publish", SequenceOrder: 1}
	require.NoError(t, db.Create(&module).Error)

	lessons := []models.Lesson{
		{ModuleID: module.ID, Title: "Second", Status: "publish", SequenceOrder: 2},
		{ModuleID: module.ID, Title: "First", Status: "publish", SequenceOrder: 1},
		{ModuleID: module.ID, Title: "Hidden", Status: "trash", SequenceOrder: 3},
	}
	for i := range lessons {
		require.NoError(t, db.Create(&lessons[i]).Error)
	}

	entries, err := store.LoadModuleLessons(module.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "First", entries[0].Title)
	assert.Equal(t, "Second", entries[1].Title)
}

func TestLoadCourseStats(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormEntityStore(db)

	course := models.Course{Title: "Go", AccessMode: models.AccessModePurchase}
	require.NoError(t, db.Create(&course).Error)

	m1 := models.CourseModule{CourseID: course.ID, Title: "A", Status: "publish", SequenceOrder: 1}
	m2 := models.CourseModule{CourseID: course.ID, Title: "B", Status: "publish", SequenceOrder: 2}
	require.NoError(t, db.Create(&m1).Error)
	require.NoError(t, db.Create(&m2).Error)

	for i, moduleID := range []uint{m1.ID, m1.ID, m2.ID} {
		lesson := models.Lesson{ModuleID: moduleID, Title: "L", Status: "publish", SequenceOrder: i + 1}
		require.NoError(t, db.Create(&lesson).Error)
	}

	stats, err := store.LoadCourseStats(course.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Modules)
	assert.Equal(t, 3, stats.Lessons)
}

func TestEntityLookupsMissing(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormEntityStore(db)

	course, err := store.CourseByID(404)
	require.NoError(t, err)
	assert.Nil(t, course)

	module, err := store.ModuleByID(404)
	require.NoError(t, err)
	assert.Nil(t, module)

	lesson, err := store.LessonByID(404)
	require.NoError(t, err)
	assert.Nil(t, lesson)
}

func TestGrantUpsertDeduplicates(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormGrantStore(db)

	require.NoError(t, store.Upsert(10, 1, 1000))
	require.NoError(t, store.Upsert(10, 1, 2000))

	var count int64
	require.NoError(t, db.Model(&models.CourseAccess{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	grant, err := store.Grant(10, 1)
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.EqualValues(t, 2000, grant.ExpiresAt)
}

func TestGrantUpsertPreservesAccessStart(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormGrantStore(db)

	require.NoError(t, store.Upsert(10, 1, 1000))
	stamped, err := store.StampAccessStart(10, 1, 777)
	require.NoError(t, err)
	require.EqualValues(t, 777, stamped)

	// Refreshing the grant must not reset the drip epoch.
	require.NoError(t, store.Upsert(10, 1, 2000))

	grant, err := store.Grant(10, 1)
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.EqualValues(t, 777, grant.AccessStart)
	assert.EqualValues(t, 2000, grant.ExpiresAt)
}

func TestStampAccessStartIdempotent(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormGrantStore(db)

	require.NoError(t, store.Upsert(10, 1, 0))

	first, err := store.StampAccessStart(10, 1, 500)
	require.NoError(t, err)
	assert.EqualValues(t, 500, first)

	second, err := store.StampAccessStart(10, 1, 900)
	require.NoError(t, err)
	assert.EqualValues(t, 500, second)
}

func TestStampAccessStartWithoutGrant(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormGrantStore(db)

	ts, err := store.StampAccessStart(10, 1, 500)
	require.NoError(t, err)
	assert.Zero(t, ts)
}

func TestGrantRemove(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormGrantStore(db)

	require.NoError(t, store.Upsert(10, 1, 0))
	require.NoError(t, store.Remove(10, 1))

	grant, err := store.Grant(10, 1)
	require.NoError(t, err)
	assert.Nil(t, grant)

	// Removing an absent grant is a no-op, not an error.
	require.NoError(t, store.Remove(10, 1))
}

func TestGrantCourses(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormGrantStore(db)

	require.NoError(t, store.Upsert(10, 3, 0))
	require.NoError(t, store.Upsert(10, 1, 0))
	require.NoError(t, store.Upsert(11, 2, 0))

	ids, err := store.Courses(10)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, ids)
}

func TestExpiredGrants(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormGrantStore(db)

	require.NoError(t, store.Upsert(10, 1, 500))
	require.NoError(t, store.Upsert(10, 2, 5000))
	require.NoError(t, store.Upsert(10, 3, 0)) // lifetime

	expired, err := store.Expired(1000)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.EqualValues(t, 1, expired[0].CourseID)
}

func TestIsAdmin(t *testing.T) {
	db := openTestDB(t)
	store := access.NewGormUserStore(db)

	admin := models.User{Username: "root", Email: "root@example.com", PasswordHash: "x", Role: "admin"}
	user := models.User{Username: "bob", Email: "bob@example.com", PasswordHash: "x", Role: "user"}
	require.NoError(t, db.Create(&admin).Error)
	require.NoError(t, db.Create(&user).Error)

	isAdmin, err := store.IsAdmin(admin.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	isAdmin, err = store.IsAdmin(user.ID)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	isAdmin, err = store.IsAdmin(404)
	require.NoError(t, err)
	assert.False(t, isAdmin)
}
