package locations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-crm-connect/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRequestTimeout    = 10 * time.Second
	maxLocationResponseBytes = 1 << 20 // 1 MiB

	highLevelLocationsURL = "https://services.leadconnectorhq.com/locations"
	highLevelAPIVersion   = "2021-07-28"
)

var ErrLocationNotFound = errors.New("locations: location not found")

type LocationNotFoundError struct {
	Cause error
}

func (e *LocationNotFoundError) Error() string {
	if e == nil || e.Cause == nil {
		return ErrLocationNotFound.Error()
	}
	return ErrLocationNotFound.Error() + ": " + e.Cause.Error()
}

func (e *LocationNotFoundError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return ErrLocationNotFound
	}
	return errors.Join(ErrLocationNotFound, e.Cause)
}

func (e *LocationNotFoundError) ToServiceError() *goerrors.Error {
	message := ErrLocationNotFound.Error()
	if e != nil && e.Cause != nil {
		message = e.Error()
	}
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound)
}

func locationNotFound(cause error) error {
	return &LocationNotFoundError{Cause: cause}
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProviderEndpointConfig describes where one CRM serves location details.
// The location id is appended to URL as a path segment.
type ProviderEndpointConfig struct {
	URL     string
	Headers map[string]string
}

type Config struct {
	HTTPClient        HTTPDoer
	RequestTimeout    time.Duration
	Signer            core.Signer
	ProviderEndpoints map[string]ProviderEndpointConfig
}

// Resolver fetches human-readable location names from CRM APIs. It is a
// best-effort collaborator; callers treat every error as "name unknown".
type Resolver struct {
	httpClient        HTTPDoer
	requestTimeout    time.Duration
	signer            core.Signer
	providerEndpoints map[string]ProviderEndpointConfig
}

func NewResolver(cfg Config) *Resolver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	signer := cfg.Signer
	if signer == nil {
		signer = core.BearerTokenSigner{}
	}

	providerEndpoints := defaultProviderEndpointConfigs()
	for key, value := range cfg.ProviderEndpoints {
		normalizedID := normalizeProviderID(key)
		if normalizedID == "" {
			continue
		}
		providerEndpoints[normalizedID] = ProviderEndpointConfig{
			URL:     strings.TrimSpace(value.URL),
			Headers: copyStringMap(value.Headers),
		}
	}

	return &Resolver{
		httpClient:        httpClient,
		requestTimeout:    requestTimeout,
		signer:            signer,
		providerEndpoints: providerEndpoints,
	}
}

func DefaultResolver() *Resolver {
	return NewResolver(Config{})
}

func (r *Resolver) ResolveLocationName(ctx context.Context, providerID string, cred core.ActiveCredential, locationID string) (string, error) {
	if r == nil {
		return "", locationNotFound(nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return "", locationNotFound(fmt.Errorf("locations: location id is required"))
	}

	endpointConfig, ok := r.providerEndpoints[normalizeProviderID(providerID)]
	if !ok || strings.TrimSpace(endpointConfig.URL) == "" {
		return "", locationNotFound(fmt.Errorf("locations: no endpoint configured for provider %q", providerID))
	}

	payload, err := r.fetchLocation(ctx, endpointConfig, cred, locationID)
	if err != nil {
		return "", locationNotFound(err)
	}

	name := extractLocationName(payload)
	if name == "" {
		return "", locationNotFound(fmt.Errorf("locations: response has no location name"))
	}
	return name, nil
}

func defaultProviderEndpointConfigs() map[string]ProviderEndpointConfig {
	return map[string]ProviderEndpointConfig{
		"highlevel": {
			URL: highLevelLocationsURL,
			Headers: map[string]string{
				"Version": highLevelAPIVersion,
			},
		},
	}
}

func (r *Resolver) fetchLocation(ctx context.Context, endpointConfig ProviderEndpointConfig, cred core.ActiveCredential, locationID string) (map[string]any, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(endpointConfig.URL), "/") + "/" + url.PathEscape(locationID)

	requestCtx := ctx
	cancel := func() {}
	if r.requestTimeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, r.requestTimeout)
	}
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range endpointConfig.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		req.Header.Set(key, value)
	}
	if err := r.signer.Sign(requestCtx, req, cred); err != nil {
		return nil, err
	}

	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxLocationResponseBytes+1))
	if readErr != nil {
		return nil, fmt.Errorf("locations: read location response: %w", readErr)
	}
	if int64(len(body)) > maxLocationResponseBytes {
		return nil, fmt.Errorf("locations: location response exceeds %d bytes", maxLocationResponseBytes)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("locations: location endpoint returned status %d", res.StatusCode)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("locations: decode location response: %w", err)
	}
	return payload, nil
}

// extractLocationName handles both enveloped ({"location": {...}}) and flat
// response shapes.
func extractLocationName(payload map[string]any) string {
	if nested, ok := payload["location"].(map[string]any); ok {
		if name := readString(nested["name"]); name != "" {
			return name
		}
	}
	return readString(payload["name"])
}

func normalizeProviderID(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

func copyStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func readString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

var _ core.LocationResolver = (*Resolver)(nil)
