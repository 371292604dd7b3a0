package iam

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"quorum/internal/rules/models"
	"quorum/internal/rules/ports"
	dErrors "quorum/pkg/domain-errors"
)

const (
	vendorKeyComponent = "tide-vendor-key"
	thresholdAttribute = "tideThreshold"
	authorizerAttr     = "isAuthorizerRole"
)

var (
	_ ports.ThresholdSource = (*Client)(nil)
	_ ports.Signer          = (*Client)(nil)
	_ ports.RuleSource      = (*Client)(nil)
)

// ClientRepresentation is the subset of an IAM client the service reads.
type ClientRepresentation struct {
	ID          string `json:"id,omitempty"`
	ClientID    string `json:"clientId"`
	Description string `json:"description,omitempty"`
}

// RoleRepresentation is an IAM role. Attributes are multi-valued.
type RoleRepresentation struct {
	ID          string              `json:"id,omitempty"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	ClientRole  bool                `json:"clientRole,omitempty"`
	ContainerID string              `json:"containerId,omitempty"`
	Attributes  map[string][]string `json:"attributes,omitempty"`
}

type componentRepresentation struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Config map[string][]string `json:"config"`
}

// InitCert is the role's initial certificate and its signature.
type InitCert struct {
	Cert string `json:"cert"`
	Sig  string `json:"sig"`
}

// ClientByClientID resolves a client by its public client ID.
func (c *Client) ClientByClientID(ctx context.Context, clientID string) (*ClientRepresentation, error) {
	var clients []ClientRepresentation
	err := c.do(ctx, request{method: http.MethodGet, path: "/clients", query: url.Values{"clientId": {clientID}}}, &clients)
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 || clients[0].ID == "" {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "iam: client %s does not exist", clientID)
	}
	return &clients[0], nil
}

// ClientRole reads one role of a client by name.
func (c *Client) ClientRole(ctx context.Context, clientUUID, roleName string) (*RoleRepresentation, error) {
	var role RoleRepresentation
	path := "/clients/" + url.PathEscape(clientUUID) + "/roles/" + url.PathEscape(roleName)
	if err := c.do(ctx, request{method: http.MethodGet, path: path}, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

func (c *Client) adminRoleRep(ctx context.Context) (*RoleRepresentation, error) {
	client, err := c.ClientByClientID(ctx, RealmManagementClient)
	if err != nil {
		return nil, err
	}
	return c.ClientRole(ctx, client.ID, c.adminRole)
}

// AdminThreshold is the number of distinct admin approvals a rule change
// needs, read from the admin role's threshold attribute.
func (c *Client) AdminThreshold(ctx context.Context) (int, error) {
	role, err := c.adminRoleRep(ctx)
	if err != nil {
		return 0, err
	}
	values := role.Attributes[thresholdAttribute]
	if len(values) == 0 {
		return 0, dErrors.Newf(dErrors.CodeInternal, "iam: role %s has no %s attribute", role.Name, thresholdAttribute)
	}
	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil || n < 0 {
		return 0, dErrors.Newf(dErrors.CodeInternal, "iam: role %s has invalid threshold %q", role.Name, values[0])
	}
	return n, nil
}

// AdminInitCert returns the admin role's initial certificate.
func (c *Client) AdminInitCert(ctx context.Context) (*InitCert, error) {
	role, err := c.adminRoleRep(ctx)
	if err != nil {
		return nil, err
	}
	var cert InitCert
	err = c.do(ctx, request{method: http.MethodGet, path: "/tideAdminResources/get-init-cert", query: url.Values{"roleId": {role.ID}}}, &cert)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// SignRuleSet submits the committed draft and its approvals to the vendor
// key and returns the rules certificate.
func (c *Client) SignRuleSet(ctx context.Context, req ports.SignRequest) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := []struct{ name, value string }{
		{"ruleDraft", req.DraftBlob},
		{"expiry", strconv.FormatInt(req.Expiry.Unix(), 10)},
		{"newSetting", req.NewSetting},
	}
	for _, a := range req.Approvals {
		fields = append(fields, struct{ name, value string }{"authorizations", a})
	}
	for _, f := range fields {
		if err := form.WriteField(f.name, f.value); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "iam: encode sign-rules form")
		}
	}
	if err := form.Close(); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "iam: encode sign-rules form")
	}

	var cert string
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/vendorResources/sign-rules",
		body:        &body,
		contentType: form.FormDataContentType(),
	}, &cert)
	if err != nil {
		return "", err
	}
	cert = strings.TrimSpace(cert)
	if cert == "" {
		return "", dErrors.New(dErrors.CodeSigningFailed, "iam: signer returned an empty certificate")
	}
	return cert, nil
}

// RealmRules reads the rule set and certificate stored on the vendor key
// component. A realm without the component has no rules yet.
func (c *Client) RealmRules(ctx context.Context) (*ports.RealmRules, error) {
	var components []componentRepresentation
	err := c.do(ctx, request{method: http.MethodGet, path: "/components", query: url.Values{"name": {vendorKeyComponent}}}, &components)
	if err != nil {
		return nil, err
	}
	if len(components) == 0 {
		return nil, nil
	}
	cfg := components[0].Config
	raw := first(cfg["rules"])
	if raw == "" {
		return nil, nil
	}
	var settings models.RuleSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedRule, "iam: realm rules are not valid JSON")
	}
	if settings.ValidationSettings == nil {
		settings.ValidationSettings = map[string][]models.RuleDefinition{}
	}
	return &ports.RealmRules{Settings: settings, Cert: first(cfg["rulesCert"])}, nil
}

// CreateApprovalURI asks the IAM for the enclave URI admins approve in.
func (c *Client) CreateApprovalURI(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, request{method: http.MethodGet, path: "/tideAdminResources/Create-Approval-URI"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateAuthorization turns an approval from the enclave into an
// authorization artefact for clientID.
func (c *Client) CreateAuthorization(ctx context.Context, clientID, approval, authentication string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("authorizerApproval", approval); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "iam: encode authorization form")
	}
	if err := form.WriteField("authorizerAuthentication", authentication); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "iam: encode authorization form")
	}
	if err := form.Close(); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "iam: encode authorization form")
	}

	var out string
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/tideAdminResources/create-authorization",
		query:       url.Values{"clientId": {clientID}},
		body:        &body,
		contentType: form.FormDataContentType(),
	}, &out)
	return out, err
}

// MarkAsAuthorizerRole flags a role as one whose holders may approve.
func (c *Client) MarkAsAuthorizerRole(ctx context.Context, roleID string) error {
	path := "/roles-by-id/" + url.PathEscape(roleID)
	var role RoleRepresentation
	if err := c.do(ctx, request{method: http.MethodGet, path: path}, &role); err != nil {
		return err
	}
	if role.Attributes == nil {
		role.Attributes = map[string][]string{}
	}
	role.Attributes[authorizerAttr] = []string{"true"}
	body, err := jsonBody(role)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "iam: encode role")
	}
	return c.do(ctx, request{method: http.MethodPut, path: path, body: body, contentType: "application/json"}, nil)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
