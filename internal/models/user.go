// internal/models/user.go
package models

// User mirrors the identity service's account so products and orders can
// reference it. Credentials live with the identity service.
type User struct {
	BaseModel
	Username string   `json:"username" gorm:"uniqueIndex;size:50;not null"`
	Email    string   `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Role     UserRole `json:"role" gorm:"type:varchar(20);not null;index"`
}
