package handler

import (
	"net/mail"
	"strings"

	"quorum/internal/iam"
	dErrors "quorum/pkg/domain-errors"
	strs "quorum/pkg/platform/strings"
)

type UpdateUserRequest struct {
	ID            string   `json:"id"`
	FirstName     string   `json:"firstName"`
	LastName      string   `json:"lastName"`
	Email         string   `json:"email"`
	RolesToAdd    []string `json:"rolesToAdd"`
	RolesToRemove []string `json:"rolesToRemove"`
}

func (r *UpdateUserRequest) Validate() error {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	r.Email = strings.TrimSpace(r.Email)
	if r.Email != "" {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return dErrors.New(dErrors.CodeValidation, "email is invalid")
		}
	}
	r.RolesToAdd = strs.DedupeAndTrim(r.RolesToAdd)
	r.RolesToRemove = strs.DedupeAndTrim(r.RolesToRemove)
	for _, role := range r.RolesToAdd {
		for _, removed := range r.RolesToRemove {
			if role == removed {
				return dErrors.Newf(dErrors.CodeValidation, "role %s is both added and removed", role)
			}
		}
	}
	return nil
}

type UserResponse struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
}

type UserListResponse struct {
	Users []UserResponse `json:"users"`
}

type RoleResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type RoleListResponse struct {
	Roles []RoleResponse `json:"roles"`
}

func toUserResponse(u iam.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Roles:     []string{},
	}
}
