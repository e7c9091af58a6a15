package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeBearer is the only access token type issued.
const TokenTypeBearer = "Bearer"

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required"`
	Meta     RequestMeta `json:"-"`
}

// RefreshTokenRequest exchanges a refresh token for a new pair.
type RefreshTokenRequest struct {
	RefreshToken string      `json:"refresh_token" validate:"required"`
	Meta         RequestMeta `json:"-"`
}

// LogoutRequest names the refresh token to revoke.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ChangePasswordRequest replaces the caller's password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,nefield=CurrentPassword"`
}

// TokenPair is an access token with the single-use refresh token that renews it.
// ExpiresIn is the access token lifetime in seconds.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// LoginResponse is a fresh token pair and the profile it was issued to.
type LoginResponse struct {
	TokenPair
	User UserInfo `json:"user"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	Role       UserRole `json:"role"`
	Department *string  `json:"department,omitempty"`
	ManagerID  *string  `json:"manager_id,omitempty"`
}

// NewUserInfo projects a user into the public auth payload.
func NewUserInfo(u *User) UserInfo {
	return UserInfo{
		ID:         u.ID,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Role:       u.Role,
		Department: u.Department,
		ManagerID:  u.ManagerID,
	}
}

// JWTClaims is the access token payload. Subject carries the user ID as well.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	jwt.RegisteredClaims
}
