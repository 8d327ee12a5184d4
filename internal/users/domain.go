package users

import "time"

// User is a staff account as listed in the directory.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows a directory listing.
type ListFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
