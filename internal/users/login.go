package users

import "time"

// Login stores the credential of one account. The public profile lives in
// the file store.
type Login struct {
	Username     string    `gorm:"column:username;primaryKey;size:64;not null"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Login) TableName() string {
	return "logins"
}
