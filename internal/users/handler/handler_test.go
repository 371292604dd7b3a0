package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"quorum/internal/iam"
	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/middleware/auth"
	"quorum/pkg/testutil"
)

type fakeDirectory struct {
	mu       sync.Mutex
	users    []iam.User
	roles    map[string][]string
	failRole string
	updated  map[string]iam.UserUpdate
	deleted  []string
}

func (f *fakeDirectory) GetUsers(context.Context) ([]iam.User, error) { return f.users, nil }

func (f *fakeDirectory) GetUserRoleMappings(_ context.Context, userID string) ([]string, error) {
	if userID == f.failRole {
		return nil, dErrors.New(dErrors.CodeUnavailable, "iam down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[userID], nil
}

func (f *fakeDirectory) GetTransactionRoles(context.Context) ([]iam.RoleRepresentation, error) {
	return []iam.RoleRepresentation{{ID: "r1", Name: "approver"}, {ID: "r2", Name: "teller"}}, nil
}

func (f *fakeDirectory) GrantUserRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[userID] = append(f.roles[userID], role)
	return nil
}

func (f *fakeDirectory) RemoveUserRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.roles[userID][:0]
	for _, r := range f.roles[userID] {
		if r != role {
			kept = append(kept, r)
		}
	}
	f.roles[userID] = kept
	return nil
}

func (f *fakeDirectory) UpdateUser(_ context.Context, userID string, u iam.UserUpdate) error {
	f.updated[userID] = u
	return nil
}

func (f *fakeDirectory) DeleteUser(_ context.Context, userID string) error {
	f.deleted = append(f.deleted, userID)
	return nil
}

type UsersSuite struct {
	suite.Suite
	dir    *fakeDirectory
	router http.Handler
}

func TestUsersSuite(t *testing.T) {
	suite.Run(t, new(UsersSuite))
}

func (s *UsersSuite) SetupTest() {
	s.dir = &fakeDirectory{
		users: []iam.User{
			{ID: "u1", Username: "alice", Email: "alice@example.com"},
			{ID: "u2", Username: "bob"},
		},
		roles:   map[string][]string{"u1": {"approver"}, "u2": {"teller"}},
		updated: map[string]iam.UserUpdate{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(s.dir, logger, testutil.ActorFromHeader, auth.RequireAnyRole(logger, iam.AdminRole)).Register(r)
	s.router = r
}

func (s *UsersSuite) admin(req *http.Request) *http.Request {
	req.Header.Set("X-Test-User", "admin-1")
	req.Header.Set("X-Test-Roles", iam.AdminRole)
	return req
}

func (s *UsersSuite) TestListIncludesRoles() {
	rr := testutil.DoRequest(s.router, s.admin(testutil.NewRequest(s.T(), http.MethodGet, "/admin/users")))
	testutil.AssertStatusOK(s.T(), rr)

	resp := testutil.UnmarshalResponse[UserListResponse](s.T(), rr)
	s.Require().Len(resp.Users, 2)
	s.Equal("u1", resp.Users[0].ID)
	s.Equal([]string{"approver"}, resp.Users[0].Roles)
	s.Equal([]string{"teller"}, resp.Users[1].Roles)
}

func (s *UsersSuite) TestListFailsWhenRoleLookupFails() {
	s.dir.failRole = "u2"
	rr := testutil.DoRequest(s.router, s.admin(testutil.NewRequest(s.T(), http.MethodGet, "/admin/users")))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "unavailable")
}

func (s *UsersSuite) TestRequiresAdmin() {
	req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/users")
	req.Header.Set("X-Test-User", "u2")
	req.Header.Set("X-Test-Roles", "teller")
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
}

func (s *UsersSuite) TestUpdate() {
	body := UpdateUserRequest{
		ID:            "u2",
		FirstName:     "Bob",
		Email:         "bob@example.com",
		RolesToAdd:    []string{"approver", " approver "},
		RolesToRemove: []string{"teller"},
	}
	rr := testutil.DoRequest(s.router, s.admin(testutil.NewJSONRequest(s.T(), http.MethodPut, "/admin/users", body)))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	s.Equal("Bob", s.dir.updated["u2"].FirstName)
	s.Equal([]string{"approver"}, s.dir.roles["u2"])
}

func (s *UsersSuite) TestUpdateValidation() {
	cases := map[string]UpdateUserRequest{
		"missing id":     {Email: "x@example.com"},
		"bad email":      {ID: "u1", Email: "not-an-email"},
		"add and remove": {ID: "u1", RolesToAdd: []string{"a"}, RolesToRemove: []string{"a"}},
	}
	for name, body := range cases {
		s.Run(name, func() {
			rr := testutil.DoRequest(s.router, s.admin(testutil.NewJSONRequest(s.T(), http.MethodPut, "/admin/users", body)))
			testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
		})
	}
}

func (s *UsersSuite) TestDelete() {
	rr := testutil.DoRequest(s.router, s.admin(testutil.NewRequest(s.T(), http.MethodDelete, "/admin/users?userId=u2")))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	s.Equal([]string{"u2"}, s.dir.deleted)
}

func (s *UsersSuite) TestDeleteSelfForbidden() {
	rr := testutil.DoRequest(s.router, s.admin(testutil.NewRequest(s.T(), http.MethodDelete, "/admin/users?userId=admin-1")))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	s.Empty(s.dir.deleted)
}

func (s *UsersSuite) TestRoles() {
	rr := testutil.DoRequest(s.router, s.admin(testutil.NewRequest(s.T(), http.MethodGet, "/admin/roles")))
	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[RoleListResponse](s.T(), rr)
	s.Len(resp.Roles, 2)
}
