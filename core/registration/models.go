package registration

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core"
)

// Statuses. `registered` and `attended` are "active" and count against the
// event's capacity; `cancelled` rows are kept for history only.
const (
	StatusRegistered = "registered"
	StatusAttended   = "attended"
	StatusCancelled  = "cancelled"
)

type Registration struct {
	ID                int         `json:"id"`
	EventID           int         `json:"event_id"`
	UserID            int         `json:"user_id"`
	Status            string      `json:"status"`
	RegisteredAt      time.Time   `json:"registered_at"`
	AttendedAt        null.Time   `json:"attended_at"`
	Rating            null.Int    `json:"rating"`
	Comment           null.String `json:"comment"`
	CertificateSerial null.String `json:"certificate_serial"`
	CertificateURL    null.String `json:"certificate_url"`
	CertificateIssued bool        `json:"certificate_issued"`
}

// IsActive reports whether the registration counts against capacity.
func (r *Registration) IsActive() bool {
	return r.Status == StatusRegistered || r.Status == StatusAttended
}

// Feedback is the rating/comment a user may leave after attending.
type Feedback struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

func (f *Feedback) Validate() error {
	f.Comment = core.CleanString(f.Comment)
	return core.Validate.Struct(f)
}
