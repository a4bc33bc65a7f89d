package users

import "time"

type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	Tier         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
