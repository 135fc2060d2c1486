package models

import "gorm.io/gorm"

type UserActivity struct {
	gorm.Model
	UserID      uint
	ActionType  string // "access_granted", "access_revoked", "lesson_complete"
	TargetID    uint   // course_id or lesson_id
	TargetTitle string
}
