package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/kpsipet/pengaduan/apps/api/echo"
	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/complaint"
	"github.com/kpsipet/pengaduan/core/messaging"
	"github.com/kpsipet/pengaduan/storage/database/inmem"
	"github.com/kpsipet/pengaduan/tests"
)

const adminID = 7

type fixture struct {
	conf    *core.Config
	repo    *inmemdb.ComplaintRepository
	net     *testutil.FakeNetwork
	manager *messaging.Manager
	app     *Server
	token   string
}

// setup returns a server whose messaging session is ready when ready is set.
func setup(t *testing.T, ready bool) *fixture {
	conf := testutil.Config()
	conf.Debug = false

	f := &fixture{
		conf: conf,
		repo: inmemdb.NewComplaintRepository(inmemdb.Open()),
		net:  &testutil.FakeNetwork{},
	}
	if ready {
		f.manager, _ = testutil.NewReadyManager(t, f.net)
	} else {
		f.manager = messaging.NewManager(f.net.NewTransport, testutil.NopLogger{})
		t.Cleanup(f.manager.Close)
	}

	validate, translator := core.NewValidator()
	svc := complaint.NewService(f.repo, f.manager, &testutil.Outbox{}, validate, testutil.NopLogger{}, conf)
	f.app = NewServer(ServerDeps{
		Conf:         conf,
		Logger:       testutil.NopLogger{},
		Manager:      f.manager,
		ComplaintSvc: svc,
		Validate:     validate,
		Translator:   translator,
	})

	token, err := GenerateToken(conf, NewClaims(conf, adminID, "admin", "admin@smkn1.sch.id"))
	require.NoError(t, err)
	f.token = token
	return f
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     interface{}
	token    string
	wantCode int
	wantData interface{}
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.app.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantData != nil {
				want, err := json.Marshal(tt.wantData)
				require.NoError(t, err)
				assert.JSONEq(t, string(want), rec.Body.String())
			}
		})
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestServer_home(t *testing.T) {
	f := setup(t, false)

	rec := f.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Pengaduan API!", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestServer_auth(t *testing.T) {
	f := setup(t, false)

	other := *f.conf
	other.SecretKey = "not-the-secret"
	forged, err := GenerateToken(&other, NewClaims(&other, adminID, "admin", ""))
	require.NoError(t, err)

	f.run(t, []httpTest{
		{
			name: "missing token", method: http.MethodGet, path: "/v1/whatsapp/status",
			wantCode: http.StatusUnauthorized, wantData: httpErr{Error: "missing or malformed jwt"},
		},
		{
			name: "forged token", method: http.MethodGet, path: "/v1/whatsapp/status", token: forged,
			wantCode: http.StatusUnauthorized, wantData: httpErr{Error: "invalid or expired jwt"},
		},
		{name: "valid token", method: http.MethodGet, path: "/v1/whatsapp/status", token: f.token, wantCode: http.StatusOK},
		{name: "trailing slash", method: http.MethodGet, path: "/v1/whatsapp/status/", token: f.token, wantCode: http.StatusOK},
	})
}
