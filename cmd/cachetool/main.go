// cachetool inspects and repairs the persisted cache offline.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"equityfeed/internal/config"
	"equityfeed/internal/svc"
	"equityfeed/pkg/cache"
	"equityfeed/pkg/market"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "cachetool",
		Short:         "Check, repair and reset the equity data cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "f", "etc/equityfeed.yaml", "the config file")

	root.AddCommand(checkCmd(), repairCmd(), resetCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadContext() (*svc.ServiceContext, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return svc.Build(*cfg)
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate every persisted artifact without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := loadContext()
			if err != nil {
				return err
			}
			report, err := svcCtx.Acquirer.CheckAllCaches(cmd.Context())
			if err != nil {
				return err
			}
			renderReport(cmd.OutOrStdout(), report)
			if !report.Valid {
				return errors.New("cache has invalid artifacts")
			}
			return nil
		},
	}
}

func repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair [kind...]",
		Short: "Quarantine invalid artifacts and refetch them",
		Long:  "Repair quarantines invalid artifacts of each kind and refetches them. Without arguments every kind is repaired.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseKinds(args)
			if err != nil {
				return err
			}
			svcCtx, err := loadContext()
			if err != nil {
				return err
			}
			results := make([]cache.RepairResult, 0, len(kinds))
			for _, kind := range kinds {
				res, err := svcCtx.Acquirer.RepairCache(cmd.Context(), kind)
				if err != nil {
					return fmt.Errorf("repair %s: %w", kind, err)
				}
				results = append(results, res)
			}
			renderRepairs(cmd.OutOrStdout(), results)
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Back up and clear every persisted artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("reset moves the whole cache aside; pass --force to continue")
			}
			svcCtx, err := loadContext()
			if err != nil {
				return err
			}
			backup, err := svcCtx.Acquirer.ResetAllCaches(context.WithoutCancel(cmd.Context()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cache cleared, previous artifacts in %s\n", backup)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the reset")
	return cmd
}

func parseKinds(args []string) ([]market.Kind, error) {
	if len(args) == 0 {
		return market.Kinds(), nil
	}
	kinds := make([]market.Kind, 0, len(args))
	for _, arg := range args {
		k, err := market.ParseKind(arg)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func renderReport(w io.Writer, report cache.Report) {
	fmt.Fprintf(w, "checked %d artifacts, valid=%t\n", report.Checked, report.Valid)
	if len(report.Issues) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Kind", "Path", "Problem"})
	table.SetAutoWrapText(false)
	for _, issue := range report.Issues {
		table.Append([]string{string(issue.Kind), issue.Path, issue.Problem})
	}
	table.Render()
}

func renderRepairs(w io.Writer, results []cache.RepairResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Kind", "Checked", "Quarantined", "Refetched", "Failed", "Synthetic"})
	for _, r := range results {
		table.Append([]string{
			string(r.Kind),
			strconv.Itoa(r.Checked),
			strconv.Itoa(len(r.Quarantined)),
			strconv.Itoa(len(r.Refetched)),
			strings.Join(r.Failed, " "),
			strconv.FormatBool(r.Synthetic),
		})
	}
	table.Render()
}
