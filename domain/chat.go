package domain

import "time"

// Chat is the persisted conversation. Membership truth lives in the persistence service.
type Chat struct {
	ID        ChatID
	Name      string
	GroupChat bool
	Creator   UserID
	Members   []UserID
	CreatedAt time.Time
}

func (c Chat) Audience() Audience {
	return append(Audience(nil), c.Members...)
}

// User is the persisted account as seen by the relay.
type User struct {
	ID           UserID
	Username     string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

func (u User) Identity() Identity {
	return Identity{ID: u.ID, DisplayName: u.Name}
}
