// Command derpctl is a thin client against one rank's derpd control
// API (internal/controlapi): start/kill/ping a job, or dump a rank's
// in-memory state.
//
// Grounded on the teacher's internal/cli.go buildEnqueueCommand/
// buildStatusCommand shape (one cobra subcommand per client-facing
// RPC, flags instead of a config file since this binary talks to an
// already-running derpd rather than owning one).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oakbroker/derp/internal/controlapi"
	"github.com/oakbroker/derp/pkg/types"
)

func main() {
	if err := buildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	var target string

	root := &cobra.Command{
		Use:     "derpctl",
		Short:   "derpctl talks to a running derpd rank's control API",
		Version: "0.1.0",
	}
	root.PersistentFlags().StringVar(&target, "rank", "http://127.0.0.1:8180", "base URL of the target rank's derpd")

	root.AddCommand(buildStartCommand(&target))
	root.AddCommand(buildKillCommand(&target))
	root.AddCommand(buildPingCommand(&target))
	root.AddCommand(buildDumpCommand(&target))
	return root
}

func buildStartCommand(target *string) *cobra.Command {
	var id uint64
	var userID uint32
	var ranks string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a job across the given rank set",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := controlapi.NewClient(*target)
			return client.Start(context.Background(), controlapi.StartRequest{
				ID:     types.JobID(id),
				UserID: types.UserID(userID),
				Ranks:  ranks,
			}, func(ev controlapi.JobEventResponse) {
				if err := printJSON(ev); err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				}
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "job id")
	cmd.Flags().Uint32Var(&userID, "user", 0, "owning user id")
	cmd.Flags().StringVar(&ranks, "ranks", "", "rank set, e.g. \"0-3,7\"")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("ranks")
	return cmd
}

func buildKillCommand(target *string) *cobra.Command {
	var id uint64
	var ranks string
	var signal int

	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Signal a job's members within the given rank set",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := controlapi.NewClient(*target)
			return client.Kill(context.Background(), controlapi.KillRequest{
				ID:     types.JobID(id),
				Ranks:  ranks,
				Signal: signal,
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "job id")
	cmd.Flags().StringVar(&ranks, "ranks", "", "rank set to signal")
	cmd.Flags().IntVar(&signal, "signal", 15, "POSIX signal number")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("ranks")
	return cmd
}

func buildPingCommand(target *string) *cobra.Command {
	var ranks string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Probe reachability of the given rank set",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := controlapi.NewClient(*target)
			resp, err := client.Ping(context.Background(), controlapi.PingRequest{Ranks: ranks})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&ranks, "ranks", "", "rank set to probe")
	_ = cmd.MarkFlagRequired("ranks")
	return cmd
}

func buildDumpCommand(target *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Dump the target rank's job table, peer table, and barrier state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := controlapi.NewClient(*target)
			snap, err := client.Dump(context.Background())
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
