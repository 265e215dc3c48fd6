package notification

import "time"

// Partial is a notification as delivered by one producer. A nil field was
// absent from that producer's payload, which is what the merge rule keys on.
type Partial struct {
	ID          string     `json:"id"`
	Type        *Type      `json:"type,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Message     *string    `json:"message,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	IsRead      *bool      `json:"isRead,omitempty"`
	RelatedID   *string    `json:"relatedId,omitempty"`
	RelatedType *string    `json:"relatedType,omitempty"`
	ActionURL   *string    `json:"actionUrl,omitempty"`
}

// fill returns p with every absent field taken from other.
func (p Partial) fill(other Partial) Partial {
	if p.Type == nil {
		p.Type = other.Type
	}
	if p.Title == nil {
		p.Title = other.Title
	}
	if p.Message == nil {
		p.Message = other.Message
	}
	if p.CreatedAt == nil {
		p.CreatedAt = other.CreatedAt
	}
	if p.IsRead == nil {
		p.IsRead = other.IsRead
	}
	if p.RelatedID == nil {
		p.RelatedID = other.RelatedID
	}
	if p.RelatedType == nil {
		p.RelatedType = other.RelatedType
	}
	if p.ActionURL == nil {
		p.ActionURL = other.ActionURL
	}
	return p
}

type readMark int

const (
	readNone readMark = iota
	readPending
	readConfirmed
)

// entry keeps what each producer said about one id. The visible notification
// is derived on demand, so applying pushes and pages in any order gives the
// same result.
type entry struct {
	fetched *Partial
	pushed  Partial
	mark    readMark
}

func (e *entry) isRead() bool {
	if e.mark != readNone {
		return true
	}
	if e.fetched != nil && e.fetched.IsRead != nil && *e.fetched.IsRead {
		return true
	}
	return e.pushed.IsRead != nil && *e.pushed.IsRead
}

// view merges the producers: a fetched field wins, a pushed field fills what
// the fetch lacked.
func (e *entry) view(id string) Notification {
	merged := e.pushed
	if e.fetched != nil {
		merged = e.fetched.fill(e.pushed)
	}

	n := Notification{ID: id, IsRead: e.isRead()}
	if merged.Type != nil {
		n.Type = *merged.Type
	}
	n.Title = deref(merged.Title)
	if n.Title == "" {
		n.Title = DefaultTitle(n.Type)
	}
	n.Message = deref(merged.Message)
	if merged.CreatedAt != nil {
		n.CreatedAt = *merged.CreatedAt
	}
	n.RelatedID = deref(merged.RelatedID)
	n.RelatedType = deref(merged.RelatedType)
	n.ActionURL = deref(merged.ActionURL)
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
