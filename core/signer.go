package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Signer attaches a credential to an outbound provider request.
type Signer interface {
	Sign(ctx context.Context, req *http.Request, cred ActiveCredential) error
}

type BearerTokenSigner struct{}

func (BearerTokenSigner) Sign(_ context.Context, req *http.Request, cred ActiveCredential) error {
	if req == nil {
		return fmt.Errorf("core: http request is required")
	}
	token := strings.TrimSpace(cred.AccessToken)
	if token == "" {
		return fmt.Errorf("core: access token is required for bearer signing")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

var _ Signer = BearerTokenSigner{}
