package notification

import (
	"time"

	"gigsync/internal/transport"
)

// Type enumerates every notification kind the marketplace emits.
type Type string

const (
	TypeApplicationReceived Type = "application_received"
	TypeApplicationAccepted Type = "application_accepted"
	TypeApplicationRejected Type = "application_rejected"
	TypeGigApproved         Type = "gig_approved"
	TypeGigRejected         Type = "gig_rejected"
	TypeGigCompleted        Type = "gig_completed"
	TypeClanInvite          Type = "clan_invite"
	TypeClanMemberJoined    Type = "clan_member_joined"
	TypeClanMemberLeft      Type = "clan_member_left"
	TypeClanTaskAssigned    Type = "clan_task_assigned"
	TypeClanTaskUpdated     Type = "clan_task_updated"
	TypeClanTaskCompleted   Type = "clan_task_completed"
	TypePaymentReceived     Type = "payment_received"
	TypeSystem              Type = "system"
)

// validTypes is the set of all recognized notification types.
var validTypes = map[Type]bool{
	TypeApplicationReceived: true,
	TypeApplicationAccepted: true,
	TypeApplicationRejected: true,
	TypeGigApproved:         true,
	TypeGigRejected:         true,
	TypeGigCompleted:        true,
	TypeClanInvite:          true,
	TypeClanMemberJoined:    true,
	TypeClanMemberLeft:      true,
	TypeClanTaskAssigned:    true,
	TypeClanTaskUpdated:     true,
	TypeClanTaskCompleted:   true,
	TypePaymentReceived:     true,
	TypeSystem:              true,
}

// IsValidType checks whether a notification type is recognized.
func IsValidType(t Type) bool {
	return validTypes[t]
}

// Notification is the merged view of one notification as UI surfaces see it.
type Notification struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
	IsRead      bool      `json:"isRead"`
	RelatedID   string    `json:"relatedId,omitempty"`
	RelatedType string    `json:"relatedType,omitempty"`
	ActionURL   string    `json:"actionUrl,omitempty"`
}

// Snapshot is an immutable copy of the Store handed to UI surfaces.
type Snapshot struct {
	Notifications    []Notification   `json:"notifications"`
	UnreadCount      int              `json:"unreadCount"`
	ConnectionStatus transport.Status `json:"connectionStatus"`
	Version          uint64           `json:"version"`
	Page             int              `json:"page"`
	HasMore          bool             `json:"hasMore"`
}

// PageResult is one page of REST history.
type PageResult struct {
	Items   []Partial
	Page    int
	HasMore bool
}
