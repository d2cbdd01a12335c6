// Command tunnelrotor supervises a continuous, low-disruption egress
// path by rotating a managed user's traffic through a pool of tunnel
// endpoints, switching between a live primary and a pre-verified
// secondary on a schedule, with immediate failover on health-check
// failure.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "tunnelrotor",
		Short: "Continuous tunnel rotation supervisor",
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "path to an HCL configuration file (defaults to environment-only)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
