package store

import "time"

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Share is a per-note grant. Email is a denormalized copy of the grantee's
// email at grant time, kept for display only. The user record is the
// authority.
type Share struct {
	UserID    string
	Email     string
	Role      string
	CreatedAt time.Time
}

// Note is the collaborative unit. The creator never appears in Shares;
// their ownership is implicit. UpdatedAt is bumped on every persisted
// mutation, including share changes and archive transitions.
type Note struct {
	ID         string
	Title      string
	Content    string
	CreatorID  string
	Shares     []Share
	IsArchived bool
	ArchivedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SharedUserIDs returns the userIds holding a share, in grant order.
func (n Note) SharedUserIDs() []string {
	ids := make([]string, 0, len(n.Shares))
	for _, share := range n.Shares {
		ids = append(ids, share.UserID)
	}
	return ids
}

// ShareFor returns the share entry for userID, if any.
func (n Note) ShareFor(userID string) (Share, bool) {
	for _, share := range n.Shares {
		if share.UserID == userID {
			return share, true
		}
	}
	return Share{}, false
}
