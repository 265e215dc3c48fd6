package notification

// Family groups notification types that share a push payload shape.
type Family string

const (
	FamilyApplication Family = "application"
	FamilyGig         Family = "gig"
	FamilyClan        Family = "clan"
	FamilyClanTask    Family = "clan_task"
	FamilyPayment     Family = "payment"
	FamilySystem      Family = "system"
)

// typeMeta holds the fallback title and family for each notification type.
type typeMeta struct {
	Title  string
	Family Family
}

// typeMetas maps notification types to their metadata.
var typeMetas = map[Type]typeMeta{
	TypeApplicationReceived: {Title: "New Application Received", Family: FamilyApplication},
	TypeApplicationAccepted: {Title: "Your Application Was Accepted", Family: FamilyApplication},
	TypeApplicationRejected: {Title: "Your Application Was Not Selected", Family: FamilyApplication},
	TypeGigApproved:         {Title: "Your Gig Was Approved", Family: FamilyGig},
	TypeGigRejected:         {Title: "Your Gig Was Rejected", Family: FamilyGig},
	TypeGigCompleted:        {Title: "Gig Completed", Family: FamilyGig},
	TypeClanInvite:          {Title: "You've Been Invited to a Clan", Family: FamilyClan},
	TypeClanMemberJoined:    {Title: "A Member Joined Your Clan", Family: FamilyClan},
	TypeClanMemberLeft:      {Title: "A Member Left Your Clan", Family: FamilyClan},
	TypeClanTaskAssigned:    {Title: "New Clan Task Assigned", Family: FamilyClanTask},
	TypeClanTaskUpdated:     {Title: "Clan Task Updated", Family: FamilyClanTask},
	TypeClanTaskCompleted:   {Title: "Clan Task Completed", Family: FamilyClanTask},
	TypePaymentReceived:     {Title: "Payment Received", Family: FamilyPayment},
	TypeSystem:              {Title: "Notice", Family: FamilySystem},
}

// DefaultTitle is shown when neither producer supplied a title.
func DefaultTitle(t Type) string {
	return typeMetas[t].Title
}

// FamilyOf returns the payload family of t, or "" for an unknown type.
func FamilyOf(t Type) Family {
	return typeMetas[t].Family
}
