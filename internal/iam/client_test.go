package iam

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"quorum/internal/rules/ports"
	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/circuit"
	"quorum/pkg/requestcontext"
)

const realmPrefix = "/admin/realms/tide"

type ClientSuite struct {
	suite.Suite
	mux    *http.ServeMux
	server *httptest.Server
	client *Client
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(s.mux)
	client, err := New(Config{BaseURL: s.server.URL + "/", Realm: "tide", ServiceToken: "service"},
		WithBreaker(circuit.New("iam-test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))),
	)
	s.Require().NoError(err)
	s.client = client
}

func (s *ClientSuite) TearDownTest() {
	s.client.Close()
	s.server.Close()
}

func (s *ClientSuite) handle(pattern string, fn http.HandlerFunc) {
	s.mux.HandleFunc(pattern, fn)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *ClientSuite) realmManagement() {
	s.handle("GET "+realmPrefix+"/clients", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("clientId") {
		case RealmManagementClient:
			writeJSON(w, []ClientRepresentation{{ID: "rm-uuid", ClientID: RealmManagementClient}})
		case TransactionClient:
			writeJSON(w, []ClientRepresentation{{ID: "tx-uuid", ClientID: TransactionClient}})
		default:
			writeJSON(w, []ClientRepresentation{})
		}
	})
}

func (s *ClientSuite) TestNewValidatesConfig() {
	_, err := New(Config{Realm: "tide"})
	s.Error(err)
	_, err = New(Config{BaseURL: "http://iam"})
	s.Error(err)

	c, err := New(Config{BaseURL: "http://iam/", Realm: "tide"})
	s.Require().NoError(err)
	s.Equal("http://iam/realms/tide", c.Issuer())
}

func (s *ClientSuite) TestAdminThreshold() {
	s.realmManagement()
	s.handle("GET "+realmPrefix+"/clients/rm-uuid/roles/"+AdminRole, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, RoleRepresentation{ID: "role-1", Name: AdminRole, Attributes: map[string][]string{"tideThreshold": {"3"}}})
	})

	n, err := s.client.AdminThreshold(context.Background())
	s.Require().NoError(err)
	s.Equal(3, n)
}

func (s *ClientSuite) TestAdminThresholdMissingAttribute() {
	s.realmManagement()
	s.handle("GET "+realmPrefix+"/clients/rm-uuid/roles/"+AdminRole, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, RoleRepresentation{ID: "role-1", Name: AdminRole})
	})

	_, err := s.client.AdminThreshold(context.Background())
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ClientSuite) TestForwardsCallerToken() {
	var got atomic.Value
	s.handle("GET "+realmPrefix+"/users", func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		writeJSON(w, []User{{ID: "u1", Username: "alice"}})
	})

	users, err := s.client.GetUsers(context.Background())
	s.Require().NoError(err)
	s.Len(users, 1)
	s.Equal("Bearer service", got.Load())

	ctx := requestcontext.WithAccessToken(context.Background(), "caller")
	_, err = s.client.GetUsers(ctx)
	s.Require().NoError(err)
	s.Equal("Bearer caller", got.Load())
}

func (s *ClientSuite) TestSignRuleSetSendsMultipartForm() {
	expiry := time.Unix(1_800_000_000, 0)
	s.handle("POST "+realmPrefix+"/vendorResources/sign-rules", func(w http.ResponseWriter, r *http.Request) {
		s.Require().NoError(r.ParseMultipartForm(1 << 20))
		s.Equal("draft-json", r.FormValue("ruleDraft"))
		s.Equal("setting-json", r.FormValue("newSetting"))
		s.Equal("1800000000", r.FormValue("expiry"))
		s.Equal([]string{"a1", "a2"}, r.MultipartForm.Value["authorizations"])
		_, _ = io.WriteString(w, "  cert-123\n")
	})

	cert, err := s.client.SignRuleSet(context.Background(), ports.SignRequest{
		DraftBlob:  "draft-json",
		Approvals:  []string{"a1", "a2"},
		Expiry:     expiry,
		NewSetting: "setting-json",
	})
	s.Require().NoError(err)
	s.Equal("cert-123", cert)
}

func (s *ClientSuite) TestSignRuleSetEmptyCertificate() {
	s.handle("POST "+realmPrefix+"/vendorResources/sign-rules", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := s.client.SignRuleSet(context.Background(), ports.SignRequest{DraftBlob: "d"})
	s.True(dErrors.HasCode(err, dErrors.CodeSigningFailed))
	s.True(dErrors.IsRetryable(err))
}

func (s *ClientSuite) TestRealmRules() {
	rules := `{"id":"r1","validationSettings":{},"authorizationSettings":{"blindsig:1":[]}}`
	s.handle("GET "+realmPrefix+"/components", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("tide-vendor-key", r.URL.Query().Get("name"))
		writeJSON(w, []componentRepresentation{{ID: "c1", Config: map[string][]string{
			"rules":     {rules},
			"rulesCert": {"cert-0"},
		}}})
	})

	got, err := s.client.RealmRules(context.Background())
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal("r1", got.Settings.ID)
	s.Equal("cert-0", got.Cert)
}

func (s *ClientSuite) TestRealmRulesWithoutComponent() {
	s.handle("GET "+realmPrefix+"/components", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []componentRepresentation{})
	})

	got, err := s.client.RealmRules(context.Background())
	s.NoError(err)
	s.Nil(got)
}

func (s *ClientSuite) TestStatusMapping() {
	cases := map[int]dErrors.Code{
		http.StatusUnauthorized: dErrors.CodeUnauthorized,
		http.StatusForbidden:    dErrors.CodeForbidden,
		http.StatusNotFound:     dErrors.CodeNotFound,
		http.StatusConflict:     dErrors.CodeConflict,
		http.StatusTeapot:       dErrors.CodeBadRequest,
	}
	for status, code := range cases {
		err := statusError(status, "/x")
		s.Truef(dErrors.HasCode(err, code), "status %d", status)
	}
	s.True(dErrors.HasCode(statusError(http.StatusBadGateway, "/x"), dErrors.CodeUnavailable))
}

func (s *ClientSuite) TestBreakerOpensOnServerErrors() {
	var calls atomic.Int32
	s.handle("GET "+realmPrefix+"/users", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for range 2 {
		_, err := s.client.GetUsers(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	}
	_, err := s.client.GetUsers(context.Background())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(int32(2), calls.Load(), "open breaker must not reach the server")
}

func (s *ClientSuite) TestGrantUserRole() {
	s.realmManagement()
	s.handle("GET "+realmPrefix+"/clients/tx-uuid/roles/approver", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, RoleRepresentation{ID: "role-approver", Name: "approver"})
	})
	var body []RoleRepresentation
	s.handle("POST "+realmPrefix+"/users/u1/role-mappings/clients/tx-uuid", func(w http.ResponseWriter, r *http.Request) {
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	})

	s.Require().NoError(s.client.GrantUserRole(context.Background(), "u1", "approver"))
	s.Require().Len(body, 1)
	s.Equal("role-approver", body[0].ID)
}

func (s *ClientSuite) TestGetUserRoleMappings() {
	s.handle("GET "+realmPrefix+"/users/u1/role-mappings", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"clientMappings":{"TX_MANAGMENT":{"mappings":[{"name":"teller"},{"name":"approver"}]}}}`)
	})

	roles, err := s.client.GetUserRoleMappings(context.Background(), "u1")
	s.Require().NoError(err)
	s.Equal([]string{"approver", "teller"}, roles)
}

func (s *ClientSuite) TestMarkAsAuthorizerRole() {
	s.handle("GET "+realmPrefix+"/roles-by-id/r1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, RoleRepresentation{ID: "r1", Name: "approver"})
	})
	var updated RoleRepresentation
	s.handle("PUT "+realmPrefix+"/roles-by-id/r1", func(w http.ResponseWriter, r *http.Request) {
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&updated))
		w.WriteHeader(http.StatusNoContent)
	})

	s.Require().NoError(s.client.MarkAsAuthorizerRole(context.Background(), "r1"))
	s.Equal([]string{"true"}, updated.Attributes["isAuthorizerRole"])
}

func (s *ClientSuite) TestUserCallsRequireID() {
	ctx := context.Background()
	s.True(dErrors.HasCode(s.client.DeleteUser(ctx, " "), dErrors.CodeBadRequest))
	s.True(dErrors.HasCode(s.client.UpdateUser(ctx, "", UserUpdate{}), dErrors.CodeBadRequest))
	s.True(dErrors.HasCode(s.client.RemoveUserRole(ctx, "u1", ""), dErrors.CodeBadRequest))
}

func TestCreateAuthorization(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+realmPrefix+"/tideAdminResources/create-authorization", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "console", r.URL.Query().Get("clientId"))
		assert.Equal(t, "approval", r.FormValue("authorizerApproval"))
		assert.Equal(t, "authn", r.FormValue("authorizerAuthentication"))
		_, _ = io.WriteString(w, "authorization-blob")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Realm: "tide"}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	out, err := c.CreateAuthorization(context.Background(), "console", "approval", "authn")
	require.NoError(t, err)
	assert.Equal(t, "authorization-blob", out)
}
