package store

import "time"

// UserProfile is denormalized display data for an identity. UserID is the
// email string that also keys the membership namespace; the profile is not
// authoritative for access control.
type UserProfile struct {
	UserID    string
	Email     string
	Name      string
	Avatar    string
	CreatedAt time.Time
}

type Document struct {
	ID        string
	Owner     string
	Title     string
	CreatedAt time.Time
}

// Membership grants one user access to one document. RoomID duplicates the
// document id for parity with the realtime service's room addressing.
type Membership struct {
	UserID    string
	RoomID    string
	Role      string
	CreatedAt time.Time
}

// UserDocument is a membership joined with the document title for list views.
type UserDocument struct {
	Membership
	Title string
}

// RoomUser is a membership joined with the member's profile for the
// manage-users view.
type RoomUser struct {
	Email  string
	Name   string
	Avatar string
	Role   string
}

// RefreshSession is the identity snapshot stored per refresh token.
type RefreshSession struct {
	TokenHash string
	Subject   string
	Email     string
	Name      string
	Avatar    string
	ExpiresAt time.Time
}
