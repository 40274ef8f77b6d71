package models

import (
	"context"
	"errors"
	"time"

	"github.com/Shamiri-Institute/digitalhub-backend/config"
	"github.com/Shamiri-Institute/digitalhub-backend/utils"
)

type User struct {
	ID       int      `gorm:"primary_key" json:"id"`
	Username string   `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name     string   `gorm:"size:100;not null" json:"name" binding:"required"`
	Email    *string  `gorm:"size:100;unique" json:"email"`
	Password string   `gorm:"size:255;not null" json:"password"`
	IsActive *bool    `gorm:"not null" json:"is_active"`
	Role     UserRole `gorm:"type:enum('ADMIN','SUPERVISOR','HUB_COORDINATOR');default:'SUPERVISOR'" json:"role"`
	// HubId scopes supervisors and hub coordinators to their hub. Empty for admins.
	HubId     string    `gorm:"size:30;index" json:"hub_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

/*
caches:
	User:$username
*/

func (user User) RemoveInstanceRedis() error {
	if err := config.RemoveRedisKey("User:" + user.Username); err != nil {
		return err
	}
	return nil
}

type LoginInfo struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	HubId string `json:"hub_id"`
}

func (result *User) PrepareGive() {
	result.Password = ""
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {

	db := config.GetDB()
	var err error
	var result LoginInfo

	user := User{}

	// get User info
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return &result, err
	}
	if !exists {
		err = db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Take(&user).Error
		if err != nil {
			return &result, errors.New("invalid username or password")
		}
	}

	// check login credentials. Any compare failure (mismatch or a malformed
	// stored hash) refuses the login.
	err = utils.ComparePassword(user.Password, password)
	if err != nil {
		return &result, errors.New("invalid username or password")
	}

	isActive := user.IsActive != nil && *user.IsActive
	if !isActive {
		return &result, errors.New("user is disabled")
	}

	token, err := utils.JwtGenerate(user.ID, string(user.Role))
	if err != nil {
		return &result, err
	}

	// cache user for subsequent logins
	if err := config.SetRedisObject("User:"+user.Username, user, 24*time.Hour); err != nil {
		config.LogError(config.GetLogger(), "user.go", "Login", "SetRedisObject", user.Username, err)
	}

	result = LoginInfo{
		Token: token,
		Name:  user.Name,
		Role:  string(user.Role),
		HubId: user.HubId,
	}
	return &result, nil
}

func GetUserById(ctx context.Context, userId int) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).Where("id = ?", userId).Take(&user).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}
