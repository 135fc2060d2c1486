package access

import (
	"errors"

	"project/backend/cache"
	"project/backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Statuses visible to the access engine and the derived-collection caches.
var visibleStatuses = []string{"publish", "draft"}

// GormEntityStore is the database-backed EntityStore. It also implements
// cache.Loader, so one store serves both the engine and the cache handler.
type GormEntityStore struct {
	DB *gorm.DB
}

func NewGormEntityStore(db *gorm.DB) *GormEntityStore {
	return &GormEntityStore{DB: db}
}

func (s *GormEntityStore) CourseByID(id uint) (*models.Course, error) {
	var course models.Course
	if err := s.DB.First(&course, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &course, nil
}

func (s *GormEntityStore) ModuleByID(id uint) (*models.CourseModule, error) {
	var module models.CourseModule
	if err := s.DB.First(&module, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &module, nil
}

func (s *GormEntityStore) LessonByID(id uint) (*models.Lesson, error) {
	var lesson models.Lesson
	if err := s.DB.First(&lesson, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lesson, nil
}

// LoadCourseModules returns the ordered visible modules of a course.
// Ordering is sequence_order ascending with id as the tie-break; the interval
// drip ordinal computation depends on this order being stable.
func (s *GormEntityStore) LoadCourseModules(courseID uint) ([]cache.ChildEntry, error) {
	var modules []models.CourseModule
	err := s.DB.
		Where("course_id = ? AND status IN ?", courseID, visibleStatuses).
		Order("sequence_order asc, id asc").
		Find(&modules).Error
	if err != nil {
		return nil, err
	}

	entries := make([]cache.ChildEntry, 0, len(modules))
	for _, m := range modules {
		entries = append(entries, cache.ChildEntry{
			ID:            m.ID,
			Title:         m.Title,
			Status:        m.Status,
			SequenceOrder: m.SequenceOrder,
		})
	}
	return entries, nil
}

// LoadModuleLessons returns the ordered visible lessons of a module.
func (s *GormEntityStore) LoadModuleLessons(moduleID uint) ([]cache.ChildEntry, error) {
	var lessons []models.Lesson
	err := s.DB.
		Where("module_id = ? AND status IN ?", moduleID, visibleStatuses).
		Order("sequence_order asc, id asc").
		Find(&lessons).Error
	if err != nil {
		return nil, err
	}

	entries := make([]cache.ChildEntry, 0, len(lessons))
	for _, l := range lessons {
		entries = append(entries, cache.ChildEntry{
			ID:            l.ID,
			Title:         l.Title,
			Status:        l.Status,
			SequenceOrder: l.SequenceOrder,
		})
	}
	return entries, nil
}

// LoadCourseStats counts a course's modules and lessons.
func (s *GormEntityStore) LoadCourseStats(courseID uint) (cache.CourseStats, error) {
	var moduleCount int64
	err := s.DB.Model(&models.CourseModule{}).
		Where("course_id = ? AND status IN ?", courseID, visibleStatuses).
		Count(&moduleCount).Error
	if err != nil {
		return cache.CourseStats{}, err
	}

	var lessonCount int64
	moduleIDs := s.DB.Model(&models.CourseModule{}).
		Select("id").
		Where("course_id = ?", courseID)
	err = s.DB.Model(&models.Lesson{}).
		Where("module_id IN (?) AND status IN ?", moduleIDs, visibleStatuses).
		Count(&lessonCount).Error
	if err != nil {
		return cache.CourseStats{}, err
	}

	return cache.CourseStats{Modules: int(moduleCount), Lessons: int(lessonCount)}, nil
}

// CourseModifiedAt returns the course's last-modified unix timestamp, 0 when
// the course is missing (the cache then falls back to its global version).
func (s *GormEntityStore) CourseModifiedAt(courseID uint) int64 {
	var course models.Course
	if err := s.DB.Select("updated_at").First(&course, courseID).Error; err != nil {
		return 0
	}
	return course.UpdatedAt.Unix()
}

// ModuleModifiedAt returns the module's last-modified unix timestamp.
func (s *GormEntityStore) ModuleModifiedAt(moduleID uint) int64 {
	var module models.CourseModule
	if err := s.DB.Select("updated_at").First(&module, moduleID).Error; err != nil {
		return 0
	}
	return module.UpdatedAt.Unix()
}

// GormGrantStore is the database-backed GrantStore.
type GormGrantStore struct {
	DB *gorm.DB
}

func NewGormGrantStore(db *gorm.DB) *GormGrantStore {
	return &GormGrantStore{DB: db}
}

func (s *GormGrantStore) Grant(userID, courseID uint) (*models.CourseAccess, error) {
	var grant models.CourseAccess
	err := s.DB.Where("user_id = ? AND course_id = ?", userID, courseID).First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (s *GormGrantStore) Courses(userID uint) ([]uint, error) {
	var ids []uint
	err := s.DB.Model(&models.CourseAccess{}).
		Where("user_id = ?", userID).
		Order("course_id asc").
		Pluck("course_id", &ids).Error
	return ids, err
}

// Upsert inserts the grant or refreshes its expiration. The composite unique
// index on (user_id, course_id) backs the at-most-one-grant invariant.
func (s *GormGrantStore) Upsert(userID, courseID uint, expiresAt int64) error {
	grant := models.CourseAccess{
		UserID:    userID,
		CourseID:  courseID,
		ExpiresAt: expiresAt,
	}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"expires_at": expiresAt}),
	}).Create(&grant).Error
}

func (s *GormGrantStore) Remove(userID, courseID uint) error {
	return s.DB.Unscoped().
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Delete(&models.CourseAccess{}).Error
}

// StampAccessStart writes the drip epoch only when it is still unset, then
// reads back whichever value won. Two concurrent first-checks may both pass
// the guard; both write approximately the same timestamp, so last-write-wins
// is acceptable.
func (s *GormGrantStore) StampAccessStart(userID, courseID uint, ts int64) (int64, error) {
	err := s.DB.Model(&models.CourseAccess{}).
		Where("user_id = ? AND course_id = ? AND access_start = 0", userID, courseID).
		Update("access_start", ts).Error
	if err != nil {
		return 0, err
	}

	grant, err := s.Grant(userID, courseID)
	if err != nil {
		return 0, err
	}
	if grant == nil {
		return 0, nil
	}
	return grant.AccessStart, nil
}

func (s *GormGrantStore) Expired(now int64) ([]models.CourseAccess, error) {
	var grants []models.CourseAccess
	err := s.DB.Where("expires_at > 0 AND expires_at < ?", now).Find(&grants).Error
	return grants, err
}

// GormUserStore is the database-backed UserStore.
type GormUserStore struct {
	DB *gorm.DB
}

func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{DB: db}
}

func (s *GormUserStore) IsAdmin(userID uint) (bool, error) {
	var user models.User
	if err := s.DB.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.Role == "admin", nil
}
