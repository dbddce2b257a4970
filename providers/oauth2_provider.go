package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crm-connect/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultAuthKind            = "oauth2_auth_code"
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type OAuth2Config struct {
	ID                  string
	AuthURL             string
	TokenURL            string
	ClientID            string
	ClientSecret        string
	ClientSecretInBody  bool
	DefaultScopes       []string
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	HTTPClient          HTTPDoer
}

// OAuth2Provider implements the authorization-code and refresh-token grants
// against a single CRM's endpoints. CRM token endpoints that return tenant
// identifiers (locationId, companyId, userId) alongside the token get those
// surfaced on the credential.
type OAuth2Provider struct {
	cfg        OAuth2Config
	httpClient HTTPDoer
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	LocationID       string
	CompanyID        string
	UserID           string
	ErrorCode        string
	ErrorDescription string
}

func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, fmt.Errorf("providers: auth url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers: client id is required for provider %q", cfg.ID)
	}

	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.DefaultScopes = normalizeScopes(cfg.DefaultScopes)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}

	return &OAuth2Provider{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

func (p *OAuth2Provider) ID() string {
	if p == nil {
		return ""
	}
	return p.cfg.ID
}

func (*OAuth2Provider) AuthKind() string {
	return defaultAuthKind
}

func (p *OAuth2Provider) BeginAuth(_ context.Context, req core.BeginAuthRequest) (core.BeginAuthResponse, error) {
	if p == nil {
		return core.BeginAuthResponse{}, fmt.Errorf("providers: oauth2 provider is nil")
	}
	state := strings.TrimSpace(req.State)
	if state == "" {
		generated, err := core.GenerateStateToken()
		if err != nil {
			return core.BeginAuthResponse{}, err
		}
		state = generated
	}
	scopes := normalizeScopes(req.Scopes)
	if len(scopes) == 0 {
		scopes = append([]string(nil), p.cfg.DefaultScopes...)
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", p.cfg.ClientID)
	if strings.TrimSpace(req.RedirectURI) != "" {
		values.Set("redirect_uri", strings.TrimSpace(req.RedirectURI))
	}
	values.Set("scope", strings.Join(scopes, " "))
	values.Set("state", state)

	authURL := p.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}

	metadata := cloneMetadata(req.Metadata)
	metadata["provider_id"] = p.cfg.ID
	metadata["token_url"] = p.cfg.TokenURL

	return core.BeginAuthResponse{
		URL:      authURL,
		State:    state,
		Scopes:   scopes,
		Metadata: metadata,
	}, nil
}

func (p *OAuth2Provider) CompleteAuth(ctx context.Context, req core.CompleteAuthRequest) (core.CompleteAuthResponse, error) {
	if p == nil {
		return core.CompleteAuthResponse{}, fmt.Errorf("providers: oauth2 provider is nil")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return core.CompleteAuthResponse{}, fmt.Errorf("providers: auth code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI := strings.TrimSpace(req.RedirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	token, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.CompleteAuthResponse{}, err
	}

	scopes := normalizeScopes(parseScopeList(token.Scope))
	if len(scopes) == 0 {
		scopes = append([]string(nil), p.cfg.DefaultScopes...)
	}

	now := p.cfg.Now().UTC()
	expiresAt := p.resolveExpiresAt(now, token.ExpiresIn)
	refreshToken := strings.TrimSpace(token.RefreshToken)
	credential := core.ActiveCredential{
		TokenType:      normalizeTokenType(token.TokenType),
		AccessToken:    strings.TrimSpace(token.AccessToken),
		RefreshToken:   refreshToken,
		Scopes:         scopes,
		ExpiresAt:      expiresAt,
		Refreshable:    refreshToken != "",
		LocationID:     token.LocationID,
		CompanyID:      token.CompanyID,
		ExternalUserID: token.UserID,
		Metadata: map[string]any{
			"provider_id": p.cfg.ID,
			"token_url":   p.cfg.TokenURL,
		},
	}

	return core.CompleteAuthResponse{
		Credential: credential,
		Metadata: map[string]any{
			"provider_id": p.cfg.ID,
			"token_url":   p.cfg.TokenURL,
		},
	}, nil
}

func (p *OAuth2Provider) Refresh(ctx context.Context, cred core.ActiveCredential) (core.ProviderRefreshResult, error) {
	if p == nil {
		return core.ProviderRefreshResult{}, fmt.Errorf("providers: oauth2 provider is nil")
	}
	refreshToken := strings.TrimSpace(cred.RefreshToken)
	if refreshToken == "" {
		return core.ProviderRefreshResult{}, fmt.Errorf("providers: refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	token, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.ProviderRefreshResult{}, err
	}

	now := p.cfg.Now().UTC()
	refreshed := cred
	refreshed.TokenType = normalizeTokenType(token.TokenType)
	refreshed.AccessToken = strings.TrimSpace(token.AccessToken)
	// Rotation is optional: a token endpoint that omits refresh_token keeps
	// the previous one valid.
	if nextRefresh := strings.TrimSpace(token.RefreshToken); nextRefresh != "" {
		refreshed.RefreshToken = nextRefresh
	}
	if scopes := normalizeScopes(parseScopeList(token.Scope)); len(scopes) > 0 {
		refreshed.Scopes = scopes
	}
	refreshed.ExpiresAt = p.resolveExpiresAt(now, token.ExpiresIn)
	refreshed.Refreshable = strings.TrimSpace(refreshed.RefreshToken) != ""
	if token.LocationID != "" {
		refreshed.LocationID = token.LocationID
	}
	if token.CompanyID != "" {
		refreshed.CompanyID = token.CompanyID
	}
	if token.UserID != "" {
		refreshed.ExternalUserID = token.UserID
	}
	refreshed.Metadata = cloneMetadata(refreshed.Metadata)
	refreshed.Metadata["provider_id"] = p.cfg.ID
	refreshed.Metadata["token_url"] = p.cfg.TokenURL

	return core.ProviderRefreshResult{
		Credential: refreshed,
		Metadata: map[string]any{
			"provider_id": p.cfg.ID,
			"token_url":   p.cfg.TokenURL,
		},
	}, nil
}

func (p *OAuth2Provider) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	if p == nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: oauth2 provider is nil")
	}
	if p.httpClient == nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: oauth2 http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(p.cfg.TokenURL) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token url is required for provider %q", p.cfg.ID)
	}

	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", p.cfg.ClientID)
	if p.cfg.ClientSecretInBody && p.cfg.ClientSecret != "" {
		values.Set("client_secret", p.cfg.ClientSecret)
	}

	requestCtx := ctx
	cancel := func() {}
	if p.cfg.TokenRequestTimeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		p.cfg.TokenURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !p.cfg.ClientSecretInBody && p.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}

	response, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token request failed: %w", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: read token response: %w", readErr)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token response exceeds %d bytes", maxTokenResponseBodyBytes)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		// A non-2xx response is a rejection regardless of whether its error
		// body parsed; classify it so callers expire the grant.
		detail := "unknown error"
		if parseErr == nil {
			detail = describeTokenError(payload)
		}
		return tokenEndpointPayload{}, goerrors.New(
			fmt.Sprintf("providers: token endpoint error (%d): %s", response.StatusCode, detail),
			goerrors.CategoryAuth,
		)
	}
	if parseErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: decode token response: %w", parseErr)
	}
	if payload.ErrorCode != "" {
		return tokenEndpointPayload{}, goerrors.New(
			fmt.Sprintf("providers: token endpoint error: %s", describeTokenError(payload)),
			goerrors.CategoryAuth,
		)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token endpoint response missing access token")
	}
	return payload, nil
}

func describeTokenError(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		payload, err := parseTokenPayloadJSON(body)
		if err != nil {
			return tokenEndpointPayload{}, err
		}
		return payload, nil
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		payload, err := parseTokenPayloadForm(body)
		if err != nil {
			return tokenEndpointPayload{}, err
		}
		return payload, nil
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if len(bytesTrimSpace(body)) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		LocationID:       readAnyString(decoded["locationId"]),
		CompanyID:        readAnyString(decoded["companyId"]),
		UserID:           readAnyString(decoded["userId"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if len(bytesTrimSpace(body)) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		LocationID:       strings.TrimSpace(values.Get("locationId")),
		CompanyID:        strings.TrimSpace(values.Get("companyId")),
		UserID:           strings.TrimSpace(values.Get("userId")),
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func (p *OAuth2Provider) resolveExpiresAt(now time.Time, expiresIn int64) *time.Time {
	ttl := p.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	if ttl <= 0 {
		return nil
	}
	expiresAt := now.Add(ttl)
	return &expiresAt
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func parseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func bytesTrimSpace(value []byte) []byte {
	return []byte(strings.TrimSpace(string(value)))
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func cloneMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	sort.Strings(values)
	return values
}

var _ core.Provider = (*OAuth2Provider)(nil)
