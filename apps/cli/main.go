package main

import (
	"fmt"
	"os"

	"github.com/mutare-labs/fleetpay-saas/apps/cli/root"
)

func main() {
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
