package main

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	"github.com/mutare-labs/fleetpay-saas/platform/go/gcp"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

// buildAuthMiddleware constructs the JWT middleware. The tenant claim is
// optional at this layer; the tenant-scope middleware enforces it on the
// routes that need one. A present but malformed claim is rejected here.
func buildAuthMiddleware(ctx context.Context, cfg config, logger *zap.Logger) func(http.Handler) http.Handler {
	var verify platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "firebase":
		_, fbAuth, err := gcp.InitFirebaseAuth(ctx, cfg.FirebaseCredentials)
		if err != nil {
			logger.Fatal("init firebase auth", zap.Error(err))
		}
		verify = platformauth.FirebaseTokenVerifier(fbAuth)
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		verify = platformauth.UnsignedTokenVerifier()
	default:
		logger.Fatal("unsupported auth provider", zap.String("provider", cfg.AuthProvider))
	}

	extract := func(claims map[string]interface{}) (*platformauth.UserCredentials, error) {
		creds, err := platformauth.DefaultCredentialExtractor(claims)
		if err != nil {
			return nil, err
		}
		if creds.TenantID != nil && !tenant.IsValidID(*creds.TenantID) {
			return nil, errors.New("malformed tenant claim")
		}
		return creds, nil
	}

	return platformauth.JWT(verify, extract)
}
