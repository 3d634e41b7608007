package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"

	. "github.com/trezcool/clubhub/apps/api/echo"
	"github.com/trezcool/clubhub/core/achievement"
	"github.com/trezcool/clubhub/core/event"
	"github.com/trezcool/clubhub/core/registration"
	"github.com/trezcool/clubhub/core/user"
	emailsvc "github.com/trezcool/clubhub/services/email"
	dummydb "github.com/trezcool/clubhub/storage/database/dummy"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testLogger struct{}

func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Fatal(string, ...interface{}) {}

type fixtures struct {
	usrRepo user.Repository
	evtRepo event.Repository

	usrSvc *user.Service
	evtSvc *event.Service
	regSvc *registration.Service
	achSvc *achievement.Service
}

func setup(t *testing.T) (Server, *fixtures) {
	t.Helper()

	// set up DB & repos
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open(): %v", err)
	}
	f := &fixtures{
		usrRepo: dummydb.NewUserRepository(db),
		evtRepo: dummydb.NewEventRepository(db),
	}

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock()
	log := testLogger{}
	f.usrSvc = user.NewService(f.usrRepo)
	f.evtSvc = event.NewService(f.evtRepo, log)
	f.achSvc = achievement.NewService(dummydb.NewAchievementRepository(db), f.usrRepo, mailSvc, nil, log)
	f.regSvc = registration.NewService(dummydb.NewRegistrationRepository(db), f.evtRepo, f.usrRepo, f.achSvc, mailSvc, log)

	// set up server
	app := NewServer(
		&Options{
			DisableReqLogs:  true,
			Logger:          log,
			UserSvc:         f.usrSvc,
			EventSvc:        f.evtSvc,
			RegistrationSvc: f.regSvc,
			AchievementSvc:  f.achSvc,
		},
	)
	return app, f
}

func (f *fixtures) createUser(t *testing.T, uname string, roles []string, isActive bool) user.User {
	t.Helper()
	usr := user.User{
		Name:     uname,
		Username: uname,
		Email:    uname + "@test.cd",
		IsActive: isActive,
		Roles:    roles,
	}
	if usr.Roles == nil {
		usr.Roles = []string{user.RoleStudent}
	}
	if err := usr.SetPassword("Str0ngPwd!"); err != nil {
		t.Fatalf("SetPassword(): %v", err)
	}
	usr, err := f.usrRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

func (f *fixtures) createEvent(t *testing.T, title string, capacity int, status string) event.Event {
	t.Helper()
	evt := event.Event{
		Title:             title,
		StartsAt:          time.Now().UTC().Add(24 * time.Hour),
		Venue:             "Lab 1",
		Status:            status,
		RegistrationsOpen: status == event.StatusUpcoming,
	}
	if capacity >= 0 {
		evt.Capacity = null.IntFrom(capacity)
	}
	evt, err := f.evtRepo.CreateEvent(context.Background(), evt)
	if err != nil {
		t.Fatalf("CreateEvent(): %v", err)
	}
	return evt
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	claims := GetUserClaims(usr)
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

// nolint
func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ObjectsAreEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
