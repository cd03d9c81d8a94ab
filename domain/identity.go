// Package domain contains core concepts of the chat relay.
// This file defines the identities a live connection is attached to.
// No runtime, network, or UI logic should be added here.
package domain

// UserID is the stable identifier of an authenticated user.
type UserID string

// ConnID identifies one live connection. A user may own many of them at once.
type ConnID string

type ChatID string

type MessageID string

// Identity is produced once per connection by the identity resolver and never mutated.
type Identity struct {
	ID          UserID
	DisplayName string
}

func (i Identity) String() string {
	return string(i.ID)
}

// Audience is the set of users an event should reach.
type Audience []UserID

// AudienceOf builds an Audience from raw string ids, as stored by the persistence service.
func AudienceOf(ids ...string) Audience {
	audience := make(Audience, 0, len(ids))
	for _, id := range ids {
		audience = append(audience, UserID(id))
	}
	return audience
}

func (a Audience) Contains(userID UserID) bool {
	for _, id := range a {
		if id == userID {
			return true
		}
	}
	return false
}

// Without returns a copy of the audience minus the given user.
func (a Audience) Without(userID UserID) Audience {
	out := make(Audience, 0, len(a))
	for _, id := range a {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}
