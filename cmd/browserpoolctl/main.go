// Command browserpoolctl is the operator CLI over a running
// browserpoold: reserve/release/extend/status, a pool refill explainer,
// resolution changes, and a dev subcommand that stands up fake
// in-container agents for manual exercising without real browser
// containers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oddstack/browserpool/internal/agentsim"
	"github.com/oddstack/browserpool/internal/api"
	"github.com/oddstack/browserpool/internal/config"
)

var cfg config.Config

func main() {
	cfg, _ = config.Load("")

	root := &cobra.Command{
		Use:   "browserpoolctl",
		Short: "Control a running browser pool daemon",
	}

	root.AddCommand(
		statusCmd(),
		reserveCmd(),
		releaseCmd(),
		extendCmd(),
		poolCmd(),
		resolutionCmd(),
		devCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func client() *api.Client {
	addr := cfg.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return api.NewClient("http://" + addr)
}

// --- status ---

func statusCmd() *cobra.Command {
	var jsonOutput, runtime bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pool's browsers and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			var (
				resp *api.BrowsersResponse
				err  error
			)
			if runtime {
				resp, err = c.BrowsersFromRuntime()
			} else {
				resp, err = c.Browsers()
			}
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			fmt.Printf("Capacity: %d | Used: %d\n\n", resp.Capacity, resp.Used)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "NAME\tSTATE\tPORT\tSESSION\n")
			for _, b := range resp.Browsers {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", b.Name, b.State, b.Ports.App, b.Session.SessionID)
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&runtime, "runtime", false, "Inspect the runtime directly instead of the in-memory table")
	return cmd
}

// --- reserve / release / extend ---

func reserveCmd() *cobra.Command {
	var leaseMinutes int
	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Reserve a ready browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().Reserve(leaseMinutes)
			if err != nil {
				return fmt.Errorf("reserve: %w", err)
			}
			if !resp.Available {
				fmt.Println("no browser available")
				return nil
			}
			fmt.Printf("Reserved: %s (debugger port %d)\n", resp.Slot.Name, resp.Slot.Ports.Debugger)
			return nil
		},
	}
	cmd.Flags().IntVar(&leaseMinutes, "lease-minutes", 5, "Lease duration in minutes")
	return cmd
}

func releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <name>",
		Short: "Release a leased browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Release(args[0]); err != nil {
				return fmt.Errorf("release: %w", err)
			}
			fmt.Printf("Released %s\n", args[0])
			return nil
		},
	}
}

func extendCmd() *cobra.Command {
	var leaseMinutes int
	cmd := &cobra.Command{
		Use:   "extend <name>",
		Short: "Extend a leased browser's timer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Extend(args[0], leaseMinutes); err != nil {
				return fmt.Errorf("extend: %w", err)
			}
			fmt.Printf("Extended %s: lease now ends %d minutes from now\n", args[0], leaseMinutes)
			return nil
		},
	}
	cmd.Flags().IntVar(&leaseMinutes, "lease-minutes", 5, "New lease duration in minutes")
	return cmd
}

// --- pool ---

func poolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Pool-wide commands",
	}
	cmd.AddCommand(poolRefillCmd())
	return cmd
}

// poolRefillCmd reports the pool's self-healing behavior: every
// release already recreates its container, so there is no separate
// replenish step — this exists to tell operators that explicitly,
// renamed from the teacher's "replenish" to this domain's vocabulary.
func poolRefillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refill",
		Short: "Explain the pool's self-healing behavior",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("browserpoold recreates a container immediately after every release;")
			fmt.Println("there is nothing to manually refill. Use 'status' to see current capacity.")
			return nil
		},
	}
}

// --- resolution ---

func resolutionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolution",
		Short: "Change a browser's viewport resolution",
	}

	setCmd := &cobra.Command{
		Use:   "set <name> <resolution>",
		Short: "Tear a browser down and recreate it at a whitelisted resolution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().SetResolution(args[0], args[1]); err != nil {
				return fmt.Errorf("resolution set: %w", err)
			}
			fmt.Printf("%s: resolution set to %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(setCmd)
	return cmd
}

// --- dev ---

func devCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Development helpers",
	}
	cmd.AddCommand(devServeFakeAgentCmd())
	return cmd
}

func devServeFakeAgentCmd() *cobra.Command {
	var n, basePort int
	cmd := &cobra.Command{
		Use:   "serve-fake-agent",
		Short: "Serve N fake in-container agents, enough to drive a Supervisor without real containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			fleet := agentsim.NewFleet(n, basePort, nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := fleet.Start(ctx); err != nil {
				return err
			}
			fmt.Printf("serving %d fake agents on ports %d..%d; ctrl-c to stop\n", n, basePort, basePort+n-1)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			<-sigCh

			fleet.Stop(context.Background())
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", cfg.Lifecycle.N, "Number of fake agents to serve")
	cmd.Flags().IntVar(&basePort, "base-port", cfg.Lifecycle.BaseAppPort, "First app port to listen on")
	return cmd
}
