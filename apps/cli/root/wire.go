package root

import (
	"github.com/mutare-labs/fleetpay-saas/apps/cli/cmd/auth"
	"github.com/mutare-labs/fleetpay-saas/apps/cli/cmd/bootstrap"
	tenantcmd "github.com/mutare-labs/fleetpay-saas/apps/cli/cmd/tenant"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(tenantcmd.Command())
}
