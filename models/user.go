package models

import (
	"time"
)

// User 代表拍賣系統中的使用者
type User struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	Username  string `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
