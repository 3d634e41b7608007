package event

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core"
)

// Statuses. An event moves upcoming → ongoing → completed → archived;
// cancelled is terminal and reachable from upcoming or ongoing.
const (
	StatusUpcoming  = "upcoming"
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
	StatusCancelled = "cancelled"
)

var (
	transitions = map[string][]string{
		StatusUpcoming:  {StatusOngoing, StatusCancelled},
		StatusOngoing:   {StatusCompleted, StatusCancelled},
		StatusCompleted: {StatusArchived},
		StatusArchived:  {},
		StatusCancelled: {},
	}

	venueOrLinkTag = "venue_or_link"
)

func init() {
	core.Validate.RegisterStructValidation(newEventStructValidation, NewEvent{})
	core.RegisterCustomTranslation(venueOrLinkTag, "one of venue or online_link is required")
}

func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Event struct {
	ID                int         `json:"id"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	StartsAt          time.Time   `json:"starts_at"`
	EndsAt            null.Time   `json:"ends_at"`
	Venue             string      `json:"venue"`
	OnlineLink        string      `json:"online_link"`
	Category          string      `json:"category"`
	Capacity          null.Int    `json:"capacity"` // null = unlimited
	OrganizerID       int         `json:"organizer_id"`
	Status            string      `json:"status"`
	RegistrationsOpen bool        `json:"registrations_open"`
	AttendeeCount     int         `json:"attendee_count"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// HasStarted reports whether the event's schedule has started.
func (e *Event) HasStarted(now time.Time) bool {
	switch e.Status {
	case StatusCompleted, StatusArchived:
		return true
	case StatusOngoing:
		return !now.Before(e.StartsAt)
	}
	return false
}

// AcceptsRegistrations reports whether new registrations are permitted.
func (e *Event) AcceptsRegistrations() bool {
	return e.Status == StatusUpcoming && e.RegistrationsOpen
}

// NewEvent contains information needed to create a new Event.
type NewEvent struct {
	Title       string     `json:"title" validate:"required,notblank"`
	Description string     `json:"description"`
	StartsAt    time.Time  `json:"starts_at" validate:"required"`
	EndsAt      *time.Time `json:"ends_at" validate:"omitempty,gtfield=StartsAt"`
	Venue       string     `json:"venue"`
	OnlineLink  string     `json:"online_link" validate:"omitempty,url"`
	Category    string     `json:"category"`
	Capacity    *int       `json:"capacity" validate:"omitempty,min=0"` // nil = unlimited
}

func (ne *NewEvent) Validate() error {
	ne.Title = core.CleanString(ne.Title)
	ne.Description = core.CleanString(ne.Description)
	ne.Venue = core.CleanString(ne.Venue)
	ne.OnlineLink = core.CleanString(ne.OnlineLink)
	ne.Category = core.CleanString(ne.Category, true /* lower */)
	return core.Validate.Struct(ne)
}

// newEventStructValidation requires one of Venue or OnlineLink.
func newEventStructValidation(sl validator.StructLevel) {
	if ne, ok := sl.Current().Interface().(NewEvent); ok {
		venue := strings.TrimSpace(ne.Venue)
		link := strings.TrimSpace(ne.OnlineLink)
		if len(venue) == 0 && len(link) == 0 {
			sl.ReportError(ne.Venue, "venue", "Venue", venueOrLinkTag, "")
			sl.ReportError(ne.OnlineLink, "online_link", "OnlineLink", venueOrLinkTag, "")
		}
	}
}

// UpdateEvent defines what information may be provided to modify an existing Event.
// Capacity may shrink below the current attendee count; registrations then
// freeze until attrition brings the count back under it.
type UpdateEvent struct {
	Title             string     `json:"title" validate:"omitempty,notblank"`
	Description       *string    `json:"description"`
	StartsAt          *time.Time `json:"starts_at"`
	EndsAt            *time.Time `json:"ends_at"`
	Venue             *string    `json:"venue"`
	OnlineLink        *string    `json:"online_link" validate:"omitempty,url"`
	Category          *string    `json:"category"`
	Capacity          *int       `json:"capacity" validate:"omitempty,min=0"`
	ClearCapacity     bool       `json:"clear_capacity"`
	RegistrationsOpen *bool      `json:"registrations_open"`
}

func (ue *UpdateEvent) Validate() error {
	ue.Title = core.CleanString(ue.Title)
	return core.Validate.Struct(ue)
}

type QueryFilter struct {
	Search      string   `json:"search" query:"search"`
	Category    string   `json:"category" query:"category"`
	Statuses    []string `json:"statuses" query:"status"`
	OrganizerID int      `json:"organizer_id" query:"organizer_id"`
}

func (f *QueryFilter) Clean() {
	f.Search = core.CleanString(f.Search, true)
	f.Category = core.CleanString(f.Category, true)
}
