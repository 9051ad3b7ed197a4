package domain

import "time"

type UserID string

type User struct {
	ID       UserID
	Username string
}

type ClientRole string

const (
	RoleBroadcaster ClientRole = "broadcaster"
	RoleViewer      ClientRole = "viewer"
)

// Verification is the KYC view of a user consulted during live revalidation.
type Verification struct {
	UserID           UserID
	SellerTier       int
	IdentityVerified bool
	CheckedAt        time.Time
}
