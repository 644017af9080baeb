package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"bulletin/internal/types"
)

var _ types.IdentityProvider = (*IdentityClient)(nil)

// IdentityClient verifies bearer tokens against the identity service's
// introspection endpoint.
type IdentityClient struct {
	base    *BaseClient
	baseURL string
}

// NewIdentityClient creates an IdentityClient rooted at baseURL.
func NewIdentityClient(base *BaseClient, baseURL string) *IdentityClient {
	return &IdentityClient{base: base, baseURL: strings.TrimRight(baseURL, "/")}
}

type verifyResponse struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// VerifyToken resolves token to the caller's claims. Rejected tokens map to
// ErrCodeAuthTokenInvalid; upstream failures keep the BaseClient mapping.
func (c *IdentityClient) VerifyToken(ctx context.Context, token string) (*types.Claims, error) {
	if token == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing bearer token", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tokens/verify", nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build identity request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token rejected by identity provider", nil)
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentity,
			fmt.Sprintf("identity provider returned %d", resp.StatusCode), nil)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentity, "malformed identity response", err)
	}
	if body.UID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "identity response missing uid", nil)
	}

	return &types.Claims{UID: body.UID, Email: body.Email, Role: types.Role(body.Role)}, nil
}
