package models

import "gorm.io/gorm"

// CourseAccess is one access grant: the user is tagged for the course while
// a row exists. ExpiresAt == 0 means lifetime access. AccessStart is the
// drip epoch, stamped once (GMT) and never overwritten while the grant lives.
type CourseAccess struct {
	gorm.Model
	UserID      uint  `gorm:"uniqueIndex:idx_user_course"`
	CourseID    uint  `gorm:"uniqueIndex:idx_user_course"`
	ExpiresAt   int64 // unix seconds, 0 = never
	AccessStart int64 // unix seconds, 0 = not yet stamped
}

// Order represents an incoming purchase event for one or more courses.
// Completed orders grant access; cancelled/refunded/failed orders revoke it.
type Order struct {
	gorm.Model
	ExternalID string `gorm:"index"`
	UserID     uint   `gorm:"index"`
	Status     string // completed, processing, cancelled, refunded, failed
	Items      []OrderItem
}

type OrderItem struct {
	gorm.Model
	OrderID  uint `gorm:"index"`
	CourseID uint
}
