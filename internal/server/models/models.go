// Package models defines server-side data models persisted by repositories.
package models

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	Roles        []string
	Authorities  []string
	CreatedAt    time.Time
}

// ClientMeta describes the client presenting a credential.
type ClientMeta struct {
	IP        string
	UserAgent string
}
