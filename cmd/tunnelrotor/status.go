package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/defgrid/tunnelrotor/internal/catalog"
	"github.com/defgrid/tunnelrotor/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// This file prints catalog and blacklist state in a human-readable
// way for debug purposes, adapted from the teacher's print.go.

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the endpoint catalog and blacklist as currently configured",
		Long: "Prints the catalog this configuration would discover. It does not " +
			"attach to a running supervisor process; there is no status RPC " +
			"(spec.md Non-goals). The blacklist lives only in the supervisor's " +
			"memory, so the blacklisted column reflects this command's own new, " +
			"empty registry.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus()
		},
	}
}

func printStatus() error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	dep, err := buildDeployment(cfg, zerolog.Nop())
	if err != nil {
		return err
	}

	now := time.Now()
	printEndpoints(dep.cat.List(), func(name string) bool { return dep.bl.IsBlocked(name, now) })
	return nil
}

func printEndpoints(endpoints []catalog.Endpoint, isBlocked func(string) bool) {
	w := tabwriter.NewWriter(os.Stdout, 4, 4, 2, ' ', 0)
	fmt.Fprintln(w, "name\tcountry\tconfig\tblacklisted\t")

	for _, e := range endpoints {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t\n", e.Name, e.Country, e.ConfigReference, isBlocked(e.Name))
	}

	w.Flush()
	if len(endpoints) == 0 {
		fmt.Println("(no endpoints discovered)")
	}
}
