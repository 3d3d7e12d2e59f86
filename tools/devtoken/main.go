// Command devtoken prints an unsigned dev JWT. It is the standalone flavor of
// "fleetpay auth devtoken" for environments without the CLI installed.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	"github.com/mutare-labs/fleetpay-saas/platform/go/auth/devtoken"
)

func main() {
	projectID := flag.String("project-id", "fleetpay-dev", "project ID used for iss/aud")
	userID := flag.String("user-id", "", "user_id/sub/uid claim")
	email := flag.String("email", "", "email claim")
	name := flag.String("name", "", "display name")
	role := flag.String("role", string(platformauth.RoleDriver), "role claim (DRIVER, MANAGER, TENANT_ADMIN, SUPER_ADMIN)")
	tenantID := flag.String("tenant", "", "tenantId claim")
	expiresIn := flag.Duration("expires-in", time.Hour, "token lifetime (duration, e.g. 30m, 2h)")
	audience := flag.String("audience", "", "override aud (defaults to project-id)")
	issuer := flag.String("issuer", "", "override iss (defaults to https://securetoken.google.com/<project-id>)")

	flag.Parse()

	params := devtoken.Params{
		ProjectID: strings.TrimSpace(*projectID),
		UserID:    strings.TrimSpace(*userID),
		Email:     strings.TrimSpace(*email),
		Name:      strings.TrimSpace(*name),
		Role:      platformauth.Role(strings.TrimSpace(*role)),
		TenantID:  strings.TrimSpace(*tenantID),
		ExpiresIn: *expiresIn,
		Audience:  strings.TrimSpace(*audience),
		Issuer:    strings.TrimSpace(*issuer),
	}

	token, err := devtoken.BuildUnsignedToken(params, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
