package iam

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"

	dErrors "quorum/pkg/domain-errors"
)

// User is the subset of an IAM user the admin console edits.
type User struct {
	ID        string `json:"id,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Enabled   bool   `json:"enabled,omitempty"`
}

// UserUpdate carries the editable profile fields.
type UserUpdate struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type mappingsRepresentation struct {
	ClientMappings map[string]struct {
		Mappings []RoleRepresentation `json:"mappings"`
	} `json:"clientMappings"`
}

func userPath(userID string) string {
	return "/users/" + url.PathEscape(userID)
}

func (c *Client) GetUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/users"}, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUserRoleMappings lists the names of the client roles granted to a user,
// sorted.
func (c *Client) GetUserRoleMappings(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}
	var mappings mappingsRepresentation
	if err := c.do(ctx, request{method: http.MethodGet, path: userPath(userID) + "/role-mappings"}, &mappings); err != nil {
		return nil, err
	}
	var names []string
	for _, client := range mappings.ClientMappings {
		for _, role := range client.Mappings {
			names = append(names, role.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetTransactionRoles lists the roles of the transaction client, the roles
// validation rules are keyed by.
func (c *Client) GetTransactionRoles(ctx context.Context) ([]RoleRepresentation, error) {
	client, err := c.ClientByClientID(ctx, c.txClient)
	if err != nil {
		return nil, err
	}
	var roles []RoleRepresentation
	if err := c.do(ctx, request{method: http.MethodGet, path: "/clients/" + url.PathEscape(client.ID) + "/roles"}, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (c *Client) GrantUserRole(ctx context.Context, userID, roleName string) error {
	return c.changeUserRole(ctx, http.MethodPost, userID, roleName)
}

func (c *Client) RemoveUserRole(ctx context.Context, userID, roleName string) error {
	return c.changeUserRole(ctx, http.MethodDelete, userID, roleName)
}

func (c *Client) changeUserRole(ctx context.Context, method, userID, roleName string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(roleName) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "user id and role are required")
	}
	client, err := c.ClientByClientID(ctx, c.txClient)
	if err != nil {
		return err
	}
	role, err := c.ClientRole(ctx, client.ID, roleName)
	if err != nil {
		return err
	}
	body, err := jsonBody([]RoleRepresentation{*role})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "iam: encode role mapping")
	}
	path := userPath(userID) + "/role-mappings/clients/" + url.PathEscape(client.ID)
	return c.do(ctx, request{method: method, path: path, body: body, contentType: "application/json"}, nil)
}

func (c *Client) UpdateUser(ctx context.Context, userID string, update UserUpdate) error {
	if strings.TrimSpace(userID) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}
	body, err := jsonBody(update)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "iam: encode user")
	}
	return c.do(ctx, request{method: http.MethodPut, path: userPath(userID), body: body, contentType: "application/json"}, nil)
}

func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}
	return c.do(ctx, request{method: http.MethodDelete, path: userPath(userID)}, nil)
}
