// Package client talks to the HealWise auth API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/healwise/apiserver/internal/apperr"
	"github.com/healwise/apiserver/types"
)

const defaultTimeout = 15 * time.Second

// Credentials is the result of a successful login.
type Credentials struct {
	Token string
	User  types.User
}

// Client is an API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a token and fetches the account it
// belongs to.
func (c *Client) Login(ctx context.Context, email, password string) (Credentials, error) {
	var tok struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", body, &tok); err != nil {
		return Credentials{}, err
	}
	if tok.Token == "" {
		return Credentials{}, apperr.Upstream("login response carried no token", nil)
	}

	user, err := c.CurrentUser(ctx, tok.Token)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: tok.Token, User: user}, nil
}

// Register creates an account. The caller still has to log in.
func (c *Client) Register(ctx context.Context, name, email, password string, role types.Role) (types.User, error) {
	var resp struct {
		User types.User `json:"user"`
	}
	body := map[string]string{"name": name, "email": email, "password": password, "role": string(role)}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", "", body, &resp); err != nil {
		return types.User{}, err
	}
	return resp.User, nil
}

// CurrentUser returns the account behind token.
func (c *Client) CurrentUser(ctx context.Context, token string) (types.User, error) {
	var user types.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/user", token, nil, &user); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// Profile returns the role profile behind token.
func (c *Client) Profile(ctx context.Context, token string) (types.RoleProfile, error) {
	var resp struct {
		Role    types.Role      `json:"role"`
		Profile json.RawMessage `json:"profile"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/profile", token, nil, &resp); err != nil {
		return nil, err
	}

	var profile types.RoleProfile
	switch resp.Role {
	case types.RolePatient:
		profile = &types.Patient{}
	case types.RoleDoctor:
		profile = &types.Doctor{}
	case types.RoleAdmin:
		profile = &types.Admin{}
	default:
		return nil, apperr.Upstream(fmt.Sprintf("unknown profile role %q", resp.Role), nil)
	}
	if err := json.Unmarshal(resp.Profile, profile); err != nil {
		return nil, apperr.Upstream("malformed profile response", err)
	}
	return profile, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperr.Internal("encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperr.Internal("build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Upstream("cannot reach HealWise API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Upstream("malformed response", err)
	}
	return nil
}

// decodeError rebuilds the server's error kind from the status code so
// callers can use errors.Is against apperr sentinels.
func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	msg := payload.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return apperr.Validation(msg)
	case http.StatusUnauthorized:
		return apperr.Authentication(msg)
	case http.StatusNotFound:
		return apperr.NotFound(msg)
	case http.StatusConflict:
		return apperr.Conflict(msg)
	default:
		return apperr.Upstream(msg, fmt.Errorf("status %d", resp.StatusCode))
	}
}
