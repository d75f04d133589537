package model

import "time"

// UserProfile represents an application user record as stored in the
// `user_profiles` table. The profile is created on a user's first
// successful sign-in and only its LastLogin field changes afterwards;
// UID, Email and CreatedAt are never mutated once written.
//
// Fields:
//  UID         – identity-provider user id, primary key.
//  Email       – email address reported by the identity provider.
//  DisplayName – optional display name ("N/A" when the provider has none).
//  PhotoURL    – optional avatar URL (empty when absent).
//  CreatedAt   – timestamp of the first sign-in.
//  LastLogin   – timestamp of the most recent sign-in. Advisory only;
//                concurrent sign-ins are last-writer-wins.
type UserProfile struct {
	UID         string    `json:"uid"`          // user_profiles.uid
	Email       string    `json:"email"`        // user_profiles.email
	DisplayName string    `json:"display_name"` // user_profiles.display_name
	PhotoURL    string    `json:"photo_url"`    // user_profiles.photo_url
	CreatedAt   time.Time `json:"created_at"`   // user_profiles.created_at
	LastLogin   time.Time `json:"last_login"`   // user_profiles.last_login
}
