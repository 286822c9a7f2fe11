package model

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a BookMyEnv account. The notification path only reads it.
type User struct {
	BaseModel
	Username    string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	Email       string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	Password    string     `gorm:"type:varchar(255);not null" json:"-"`
	DisplayName string     `gorm:"type:varchar(100)" json:"display_name"`
	Role        UserRole   `gorm:"type:varchar(20);default:user" json:"role"`
	Status      UserStatus `gorm:"type:varchar(20);default:active" json:"status"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

func (User) TableName() string {
	return "users"
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// SetPassword stores a bcrypt hash of password.
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil
}

// UserGroup is a named set of users used as a notification audience.
type UserGroup struct {
	BaseModel
	Name        string            `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Description string            `gorm:"type:varchar(500)" json:"description"`
	Members     []UserGroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

func (UserGroup) TableName() string {
	return "user_groups"
}

// UserGroupMember links a user to a group.
type UserGroupMember struct {
	BaseModel
	GroupID string `gorm:"type:varchar(36);uniqueIndex:idx_group_user;not null" json:"group_id"`
	UserID  string `gorm:"type:varchar(36);uniqueIndex:idx_group_user;not null" json:"user_id"`
	User    *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (UserGroupMember) TableName() string {
	return "user_group_members"
}
