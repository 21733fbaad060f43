package echoapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/session"
	dummynotify "github.com/trezcool/mahudhurio/services/notify/dummy"
	inmemdb "github.com/trezcool/mahudhurio/storage/database/inmem"
)

type httpErr struct {
	Error string `json:"error"`
}

type testLogger struct{}

func (testLogger) Enable(bool)                  {}
func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Fatal(string, ...interface{}) {}

type testApp struct {
	server   Server
	svc      *session.Service
	db       *inmemdb.DB
	notifier *dummynotify.Service
	clock    *testClock
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestApp(t *testing.T) *testApp {
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("newTestApp() failed: %v", err)
	}
	clock := &testClock{now: time.Date(2023, 3, 6, 9, 0, 0, 0, time.UTC)}
	db.SetNowFunc(clock.Now)

	conf := core.NewConfig()
	conf.TestMode = true
	conf.Debug = false

	notifier := dummynotify.NewService()
	svc := session.NewService(inmemdb.NewSessionRepository(db), notifier, conf)

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)
	session.InitValidators(validate, translator)

	server := NewServer(ServerDeps{
		Conf:       conf,
		Logger:     testLogger{},
		SessionSvc: svc,
		Feed:       db.Feed(),
		Validate:   validate,
		Translator: translator,
	})
	return &testApp{server: server, svc: svc, db: db, notifier: notifier, clock: clock}
}

func getToken(t *testing.T, claims *Claims) string {
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func lecturerToken(t *testing.T, id string) string {
	return getToken(t, NewClaims(core.NewConfig(), id, id, false, true))
}

func studentToken(t *testing.T, id string) string {
	return getToken(t, NewClaims(core.NewConfig(), id, id, true, false))
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

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decodeBody() failed: %v; body = %s", err, rec.Body.String())
	}
}
