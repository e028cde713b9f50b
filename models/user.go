package models

// Role values supplied by the auth layer.
const (
	RoleCitizen = "citizen"
	RoleAdmin   = "admin"
)

// User holds the structure for the user collection in mongo
type User struct {
	ID      string      `json:"_id" bson:"_id"`
	Details UserDetails `json:"user" bson:"user"`
	Version int32       `json:"__v" bson:"__v"`
}

// UserDetails holds the inner user structure as defined in the user
// collection in mongo
type UserDetails struct {
	Email          string         `json:"email" bson:"email"`
	Name           string         `json:"name" bson:"name"`
	Username       string         `json:"username" bson:"username"`
	Password       string         `json:"password,omitempty" bson:"password"`
	ProfilePicture string         `json:"profilePicture" bson:"profilePicture"`
	Reports        ReportCounters `json:"reports" bson:"reports"`
	CreatedAt      interface{}    `json:"createdAt" bson:"createdAt"`
	UpdatedAt      interface{}    `json:"updatedAt" bson:"updatedAt"`
}

// ReportCounters is the denormalized per-status tally of a user's reports,
// shown on the citizen dashboard. Stored field names use the internal
// vocabulary; the JSON keys follow the presentation labels.
type ReportCounters struct {
	Issued   int64 `json:"pending" bson:"issued"`
	InReview int64 `json:"inProgress" bson:"inReview"`
	Closed   int64 `json:"resolved" bson:"closed"`
}

// Total is the sum of all three counters, which must equal the number of
// reports the user owns.
func (c ReportCounters) Total() int64 {
	return c.Issued + c.InReview + c.Closed
}

// Get returns the tally for one internal status.
func (c ReportCounters) Get(s Status) int64 {
	switch s {
	case StatusIssued:
		return c.Issued
	case StatusInReview:
		return c.InReview
	case StatusClosed:
		return c.Closed
	}
	return 0
}
