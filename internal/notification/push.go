package notification

import (
	"encoding/json"
	"errors"
	"fmt"

	"gigsync/internal/common"
	"gigsync/internal/transport"
)

// ErrUnknownType marks a push whose type this build does not know. Callers
// drop such pushes without surfacing an error.
var ErrUnknownType = errors.New("unknown push type")

// Push is one decoded push. The set of implementations is closed; each
// notification family has exactly one.
type Push interface {
	// Record returns the notification fields the push carried.
	Record() Partial
	base() *Partial
}

// ApplicationPush covers application_* notifications.
type ApplicationPush struct {
	Partial
	ApplicationID string `json:"applicationId,omitempty"`
	GigID         string `json:"gigId,omitempty"`
}

// GigPush covers gig_* notifications.
type GigPush struct {
	Partial
	GigID string `json:"gigId,omitempty"`
}

// ClanPush covers clan invites and membership changes.
type ClanPush struct {
	Partial
	ClanID   string `json:"clanId,omitempty"`
	MemberID string `json:"memberId,omitempty"`
}

// ClanTaskPush covers clan_task_* notifications.
type ClanTaskPush struct {
	Partial
	ClanID string `json:"clanId,omitempty"`
	TaskID string `json:"taskId,omitempty"`
}

// PaymentPush covers payment_received.
type PaymentPush struct {
	Partial
	PaymentID string   `json:"paymentId,omitempty"`
	Amount    *float64 `json:"amount,omitempty"`
	Currency  string   `json:"currency,omitempty"`
}

// SystemPush covers system notices.
type SystemPush struct {
	Partial
}

func (p *ApplicationPush) Record() Partial {
	return withRelated(p.Partial, "application", p.ApplicationID)
}

func (p *GigPush) Record() Partial {
	return withRelated(p.Partial, "gig", p.GigID)
}

func (p *ClanPush) Record() Partial {
	return withRelated(p.Partial, "clan", p.ClanID)
}

func (p *ClanTaskPush) Record() Partial {
	return withRelated(p.Partial, "clan_task", p.TaskID)
}

func (p *PaymentPush) Record() Partial {
	return withRelated(p.Partial, "payment", p.PaymentID)
}

func (p *SystemPush) Record() Partial { return p.Partial }

func (p *ApplicationPush) base() *Partial { return &p.Partial }
func (p *GigPush) base() *Partial { return &p.Partial }
func (p *ClanPush) base() *Partial { return &p.Partial }
func (p *ClanTaskPush) base() *Partial { return &p.Partial }
func (p *PaymentPush) base() *Partial { return &p.Partial }
func (p *SystemPush) base() *Partial { return &p.Partial }

// withRelated fills the related reference from the variant's own id when the
// payload did not name one.
func withRelated(p Partial, kind, id string) Partial {
	if id == "" || p.RelatedID != nil {
		return p
	}
	p.RelatedID = &id
	if p.RelatedType == nil {
		p.RelatedType = &kind
	}
	return p
}

// DecodePush turns an inbound envelope into its push variant. Unknown types
// yield ErrUnknownType; a known type with a malformed body is a PARSE_ERROR.
func DecodePush(env transport.Envelope) (Push, error) {
	t := Type(env.Type)

	var p Push
	switch FamilyOf(t) {
	case FamilyApplication:
		p = &ApplicationPush{}
	case FamilyGig:
		p = &GigPush{}
	case FamilyClan:
		p = &ClanPush{}
	case FamilyClanTask:
		p = &ClanTaskPush{}
	case FamilyPayment:
		p = &PaymentPush{}
	case FamilySystem:
		p = &SystemPush{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, common.NewParseError(fmt.Errorf("decoding %s push: %w", env.Type, err))
	}
	b := p.base()
	if b.ID == "" {
		return nil, common.NewParseError(fmt.Errorf("%s push without id", env.Type))
	}
	if b.Type != nil && *b.Type != t {
		return nil, common.NewParseError(fmt.Errorf("push type %q disagrees with envelope %q", *b.Type, t))
	}
	b.Type = &t
	return p, nil
}
