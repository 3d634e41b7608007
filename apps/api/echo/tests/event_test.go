package tests

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/trezcool/clubhub/core/event"
	"github.com/trezcool/clubhub/core/user"
)

func Test_eventApi_create(t *testing.T) {
	app, f := setup(t)
	student := f.createUser(t, "awe", nil, true)
	coord := f.createUser(t, "coord", []string{user.RoleCoordinator, user.RoleStudent}, true)

	payload := marchallObj(t, map[string]interface{}{
		"title":     "Go Workshop",
		"starts_at": time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"venue":     "Lab 1",
		"capacity":  30,
	})

	tests := []httpTest{
		{name: "Auth required", body: payload, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Coordinator required", token: getToken(t, student), body: payload,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Created", token: getToken(t, coord), body: payload, wantCode: http.StatusCreated},
		{
			name: "Venue or link required", token: getToken(t, coord),
			body: marchallObj(t, map[string]interface{}{
				"title":     "Nowhere Meetup",
				"starts_at": time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
			}),
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/events", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_eventApi_retrieve(t *testing.T) {
	app, f := setup(t)
	student := f.createUser(t, "awe", nil, true)
	evt := f.createEvent(t, "Go Workshop", 30, event.StatusUpcoming)
	token := getToken(t, student)

	tests := []httpTest{
		{name: "Found", path: "/v1/events/1", wantCode: http.StatusOK, wantData: marchallObj(t, evt)},
		{
			name: "Unknown event", path: "/v1/events/404", wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "event not found"}),
		},
		{
			name: "Garbage id", path: "/v1/events/nope", wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_eventApi_registrationFlow(t *testing.T) {
	app, f := setup(t)
	alice := f.createUser(t, "alice", nil, true)
	bob := f.createUser(t, "bob", nil, true)
	carol := f.createUser(t, "carol", nil, true)
	coord := f.createUser(t, "coord", []string{user.RoleCoordinator, user.RoleStudent}, true)
	f.createEvent(t, "Go Workshop", 2, event.StatusUpcoming)

	do := func(t *testing.T, tt httpTest) {
		t.Helper()
		req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	}

	// the two slots go to alice and bob; carol is turned away
	do(t, httpTest{method: http.MethodPost, path: "/v1/events/1/register", token: getToken(t, alice), wantCode: http.StatusCreated})
	do(t, httpTest{method: http.MethodPost, path: "/v1/events/1/register", token: getToken(t, bob), wantCode: http.StatusCreated})
	do(t, httpTest{
		method: http.MethodPost, path: "/v1/events/1/register", token: getToken(t, alice),
		wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "you are already registered for this event"}),
	})
	do(t, httpTest{
		method: http.MethodPost, path: "/v1/events/1/register", token: getToken(t, carol),
		wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "this event is at capacity"}),
	})

	// bob backs out, carol takes the freed slot
	do(t, httpTest{method: http.MethodDelete, path: "/v1/events/1/register", token: getToken(t, bob), wantCode: http.StatusOK})
	do(t, httpTest{method: http.MethodPost, path: "/v1/events/1/register", token: getToken(t, carol), wantCode: http.StatusCreated})

	// feedback needs a recorded attendance
	do(t, httpTest{
		method: http.MethodPost, path: "/v1/events/1/feedback", token: getToken(t, alice),
		body:     marchallObj(t, map[string]interface{}{"rating": 5}),
		wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "feedback requires an attended registration"}),
	})

	// attendance cannot be marked before the event starts
	do(t, httpTest{
		method: http.MethodPut, path: "/v1/events/1/attendance/1", token: getToken(t, coord),
		body:     marchallObj(t, map[string]interface{}{"attended": true}),
		wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "attendance cannot be marked before the event starts"}),
	})

	// the event starts
	evt, err := f.evtRepo.GetEvent(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetEvent(): %v", err)
	}
	evt.Status = event.StatusOngoing
	evt.StartsAt = time.Now().UTC().Add(-time.Hour)
	if _, err := f.evtRepo.UpdateEvent(context.Background(), evt); err != nil {
		t.Fatalf("UpdateEvent(): %v", err)
	}

	// only coordinators mark attendance
	do(t, httpTest{
		method: http.MethodPut, path: "/v1/events/1/attendance/1", token: getToken(t, alice),
		body:     marchallObj(t, map[string]interface{}{"attended": true}),
		wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
	})
	do(t, httpTest{
		method: http.MethodPut, path: "/v1/events/1/attendance/1", token: getToken(t, coord),
		body:     marchallObj(t, map[string]interface{}{"attended": true}),
		wantCode: http.StatusOK,
	})

	// ratings are whole stars; a fractional one never reaches the service
	do(t, httpTest{
		method: http.MethodPost, path: "/v1/events/1/feedback", token: getToken(t, alice),
		body:     marchallObj(t, map[string]interface{}{"rating": 3.5}),
		wantCode: http.StatusBadRequest,
	})

	// alice can now leave feedback and claim a certificate
	do(t, httpTest{
		method: http.MethodPost, path: "/v1/events/1/feedback", token: getToken(t, alice),
		body:     marchallObj(t, map[string]interface{}{"rating": 5, "comment": "great!"}),
		wantCode: http.StatusOK,
	})
	do(t, httpTest{method: http.MethodPost, path: "/v1/events/1/certificate", token: getToken(t, alice), wantCode: http.StatusOK})

	// but an attended registration can no longer be cancelled
	do(t, httpTest{
		method: http.MethodDelete, path: "/v1/events/1/register", token: getToken(t, alice),
		wantCode: http.StatusConflict,
		wantData: marchallObj(t, httpErr{Error: "attendance has been recorded; this registration can no longer be cancelled"}),
	})

	// the roster is for coordinators only
	do(t, httpTest{
		method: http.MethodGet, path: "/v1/events/1/registrations", token: getToken(t, alice),
		wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
	})
	do(t, httpTest{method: http.MethodGet, path: "/v1/events/1/registrations", token: getToken(t, coord), wantCode: http.StatusOK})
}

func Test_eventApi_transition(t *testing.T) {
	app, f := setup(t)
	coord := f.createUser(t, "coord", []string{user.RoleCoordinator, user.RoleStudent}, true)
	f.createEvent(t, "Go Workshop", -1, event.StatusUpcoming)
	token := getToken(t, coord)

	tests := []httpTest{
		{
			name: "Invalid target state", body: marchallObj(t, map[string]string{"status": "archived"}),
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "this action is not allowed in the event's current state"}),
		},
		{
			name: "Unknown status", body: marchallObj(t, map[string]string{"status": "paused"}),
			wantCode: http.StatusBadRequest,
		},
		{name: "Started", body: marchallObj(t, map[string]string{"status": "ongoing"}), wantCode: http.StatusOK},
		{name: "Completed", body: marchallObj(t, map[string]string{"status": "completed"}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/events/1/transition", token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_eventApi_destroy(t *testing.T) {
	app, f := setup(t)
	coord := f.createUser(t, "coord", []string{user.RoleCoordinator, user.RoleStudent}, true)
	admin := f.createUser(t, "admin", []string{user.RoleAdmin}, true)
	f.createEvent(t, "Go Workshop", -1, event.StatusUpcoming)

	tests := []httpTest{
		{
			name: "Admin required", token: getToken(t, coord),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Deleted", token: getToken(t, admin), wantCode: http.StatusNoContent},
		{
			name: "Already gone", token: getToken(t, admin),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "event not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodDelete, "/v1/events/1", tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
