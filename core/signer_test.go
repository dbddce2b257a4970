package core

import (
	"context"
	"net/http"
	"testing"
)

func TestBearerTokenSigner(t *testing.T) {
	signer := BearerTokenSigner{}

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/locations/loc_1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if err := signer.Sign(context.Background(), req, ActiveCredential{AccessToken: "access-1"}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer access-1" {
		t.Fatalf("expected bearer header, got %q", got)
	}

	if err := signer.Sign(context.Background(), req, ActiveCredential{}); err == nil {
		t.Fatal("expected error for empty access token")
	}
	if err := signer.Sign(context.Background(), nil, ActiveCredential{AccessToken: "access-1"}); err == nil {
		t.Fatal("expected error for nil request")
	}
}
