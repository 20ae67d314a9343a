package models

// User is the minimal account projection needed for notification
// routing. Account management lives elsewhere.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email" validate:"required,email"`
	IsAdmin bool   `json:"is_admin"`
}
