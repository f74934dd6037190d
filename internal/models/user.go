package models

import "time"

// SessionToken is one active login of a user.
type SessionToken struct {
	Token string `json:"token" bson:"token"`
}

// User is a registered account. Secrets never serialize to JSON, so a User
// can be written to a response as-is.
type User struct {
	ID         string         `json:"_id"       bson:"_id"`
	Name       string         `json:"name"      bson:"name"`
	Email      string         `json:"email"     bson:"email"`
	Password   string         `json:"-"         bson:"password"`
	Age        int            `json:"age"       bson:"age"`
	Avatar     []byte         `json:"-"         bson:"avatar,omitempty"`
	AvatarType string         `json:"-"         bson:"avatarType,omitempty"`
	Tokens     []SessionToken `json:"-"         bson:"tokens"`
	CreatedAt  time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// HasToken reports whether token is one of the user's active sessions.
func (u *User) HasToken(token string) bool {
	for _, t := range u.Tokens {
		if t.Token == token {
			return true
		}
	}
	return false
}

// SignupRequest is the JSON body for POST /users.
type SignupRequest struct {
	Name     string `json:"name"     validate:"required"`
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=7,nopassword"`
	Age      int    `json:"age"      validate:"min=0"`
}

// LoginRequest is the JSON body for POST /users/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserUpdate is a partial profile change. Nil fields are left untouched.
// Password holds the plain value until the handler replaces it with a hash.
type UserUpdate struct {
	Name     *string `json:"name"     validate:"omitnil,min=1"`
	Email    *string `json:"email"    validate:"omitnil,email"`
	Password *string `json:"password" validate:"omitnil,min=7,nopassword"`
	Age      *int    `json:"age"      validate:"omitnil,min=0"`
}

// AuthResponse is returned by signup and login.
type AuthResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
