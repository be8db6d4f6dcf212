package authstate_test

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
)

// MockVerifier implements authstate.SessionVerifier
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, token string, checkRevoked bool) (authstate.Session, error) {
	args := m.Called(ctx, token, checkRevoked)
	session, _ := args.Get(0).(authstate.Session)
	return session, args.Error(1)
}

// MockRecordStore implements authstate.RecordStore
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) GetByPrincipalID(ctx context.Context, principalID string) (*authstate.UserRecord, error) {
	args := m.Called(ctx, principalID)
	record, _ := args.Get(0).(*authstate.UserRecord)
	return record, args.Error(1)
}

// MockOnboarding implements authstate.OnboardingChecker
type MockOnboarding struct {
	mock.Mock
}

func (m *MockOnboarding) Check(ctx context.Context, principalID string) (authstate.OnboardingStatus, error) {
	args := m.Called(ctx, principalID)
	status, _ := args.Get(0).(authstate.OnboardingStatus)
	return status, args.Error(1)
}

// MockRevoker implements authstate.SessionRevoker
type MockRevoker struct {
	mock.Mock
}

func (m *MockRevoker) Revoke(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// capturingSink records every activity event the machine emits.
type capturingSink struct {
	mu     sync.Mutex
	events []authstate.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt authstate.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) byType(t authstate.ActivityEventType) []authstate.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []authstate.ActivityEvent
	for _, evt := range c.events {
		if evt.EventType == t {
			out = append(out, evt)
		}
	}
	return out
}

type renderCall struct {
	Name   string
	Bind   any
	Status int
}

// fakeContext is a recording router.Context. Guard tests assert against the
// redirects, headers, and renders it captured instead of expectation wiring,
// which keeps duplicate-invocation tests honest: a second redirect shows up
// as a second recorded call, never as an unmet expectation panic.
type fakeContext struct {
	ctx        context.Context
	method     string
	url        string
	headers    map[string]string
	setHeaders map[string]string
	cookies    map[string]string
	queries    map[string]string
	locals     map[any]any
	status     int

	Redirects []string
	Statuses  []int
	Renders   []renderCall
	NoContents []int
	JSONBodies []any
	NextCalled bool
}

// passThrough is the route handler guard tests protect: it marks the
// context's Next recorder so assertions can tell whether the guard let the
// request through.
func passThrough(c router.Context) error {
	return c.Next()
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		ctx:        context.Background(),
		method:     "GET",
		url:        "/dashboard",
		headers:    map[string]string{},
		setHeaders: map[string]string{},
		cookies:    map[string]string{},
		queries:    map[string]string{},
		locals:     map[any]any{},
	}
}

func (f *fakeContext) Next() error {
	f.NextCalled = true
	return nil
}

func (f *fakeContext) Context() context.Context {
	if f.ctx == nil {
		return context.Background()
	}
	return f.ctx
}

func (f *fakeContext) SetContext(ctx context.Context) { f.ctx = ctx }

func (f *fakeContext) Path() string   { return f.url }
func (f *fakeContext) Method() string { return f.method }
func (f *fakeContext) Body() []byte   { return nil }

func (f *fakeContext) Status(code int) router.Context {
	f.status = code
	return f
}

func (f *fakeContext) SendString(string) error { return nil }
func (f *fakeContext) Send([]byte) error       { return nil }

func (f *fakeContext) JSON(code int, val any) error {
	f.Statuses = append(f.Statuses, code)
	f.JSONBodies = append(f.JSONBodies, val)
	return nil
}

func (f *fakeContext) NoContent(code int) error {
	f.NoContents = append(f.NoContents, code)
	return nil
}

func (f *fakeContext) Render(name string, bind any, _ ...string) error {
	f.Renders = append(f.Renders, renderCall{Name: name, Bind: bind, Status: f.status})
	return nil
}

func (f *fakeContext) Redirect(path string, status ...int) error {
	f.Redirects = append(f.Redirects, path)
	if len(status) > 0 {
		f.Statuses = append(f.Statuses, status[0])
	}
	return nil
}

func (f *fakeContext) RedirectToRoute(string, router.ViewContext, ...int) error { return nil }
func (f *fakeContext) RedirectBack(string, ...int) error                       { return nil }

func (f *fakeContext) SetHeader(key, val string) router.Context {
	f.setHeaders[key] = val
	return f
}

func (f *fakeContext) Header(key string) string { return f.headers[key] }

func (f *fakeContext) Get(key string, defaultValue any) any {
	if v, ok := f.locals[key]; ok {
		return v
	}
	return defaultValue
}

func (f *fakeContext) GetBool(_ string, def bool) bool      { return def }
func (f *fakeContext) GetInt(_ string, def int) int         { return def }
func (f *fakeContext) Set(key string, val any)              { f.locals[key] = val }
func (f *fakeContext) Bind(any) error                       { return nil }
func (f *fakeContext) BindJSON(any) error                   { return nil }
func (f *fakeContext) BindXML(any) error                    { return nil }
func (f *fakeContext) BindQuery(any) error                  { return nil }
func (f *fakeContext) CookieParser(any) error               { return nil }
func (f *fakeContext) Cookie(*router.Cookie)                {}

func (f *fakeContext) Cookies(key string, defaultValue ...string) string {
	if v, ok := f.cookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) ParamsInt(_ string, def int) int { return def }

func (f *fakeContext) Query(key string, defaultValue ...string) string {
	if v, ok := f.queries[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) QueryValues(key string) []string {
	if v, ok := f.queries[key]; ok {
		return []string{v}
	}
	return nil
}

func (f *fakeContext) QueryInt(_ string, def int) int  { return def }
func (f *fakeContext) Queries() map[string]string      { return f.queries }
func (f *fakeContext) GetString(_, def string) string  { return def }

func (f *fakeContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		f.locals[key] = value[0]
		return nil
	}
	return f.locals[key]
}

func (f *fakeContext) OriginalURL() string { return f.url }
func (f *fakeContext) OnNext(func() error) {}
func (f *fakeContext) Referer() string     { return f.headers["Referer"] }

func (f *fakeContext) FormFile(string) (*multipart.FileHeader, error) {
	return nil, http.ErrMissingFile
}

func (f *fakeContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) LocalsMerge(key any, value map[string]any) map[string]any {
	existing, _ := f.locals[key].(map[string]any)
	if existing == nil {
		existing = map[string]any{}
	}
	for k, v := range value {
		existing[k] = v
	}
	f.locals[key] = existing
	return existing
}

func (f *fakeContext) IP() string                      { return "127.0.0.1" }
func (f *fakeContext) SendStatus(code int) error       { f.Statuses = append(f.Statuses, code); return nil }
func (f *fakeContext) SendStream(io.Reader) error      { return nil }
func (f *fakeContext) RouteName() string               { return "" }
func (f *fakeContext) RouteParams() map[string]string  { return nil }
