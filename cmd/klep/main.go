package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cl "klepsydra/internal/cli"
	"klepsydra/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "klep",
		Short:        "Klepsydra engine client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newUseCmd(&apiBase),
		newForgetCmd(),
		newLuckCmd(&apiBase),
		newProfileCmd(&apiBase),
		newInstrumentsCmd(&apiBase),
		newTributeCmd(&apiBase),
		newWorkspaceCmd(&apiBase),
		newLedgerCmd(&apiBase),
		newDiscoverCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	session, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("no saved identity; run `klep use <user-id> <workspace-id>` first")
	}
	return session, nil
}

func newUseCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "use <user-id> [workspace-id]",
		Short: "Remember the user and workspace for later commands",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := cl.Session{UserID: strings.TrimSpace(args[0])}
			if len(args) > 1 {
				session.WorkspaceID = strings.TrimSpace(args[1])
			}
			if session.WorkspaceID != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				client := newClient(apiBase)
				if _, err := client.EnsureWorkspace(ctx, session.UserID, session.WorkspaceID); err != nil {
					return err
				}
			}
			if err := cl.SaveSession(session); err != nil {
				return err
			}
			printSuccess("Identity saved.")
			return nil
		},
	}
}

func newForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Clear the saved identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Identity cleared.")
			return nil
		},
	}
}

func newLuckCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "luck",
		Short: "Show the current luck weight",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).CurrentLuck(ctx, session.UserID)
			if err != nil {
				return err
			}
			return renderLuck(raw)
		},
	}
}

func newProfileCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the pulse profile diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).Profile(ctx, session.UserID)
			if err != nil {
				return err
			}
			return renderProfile(raw)
		},
	}
}

func newInstrumentsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "instruments",
		Short: "List tribute instruments and their derived odds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).ListInstruments(ctx)
			if err != nil {
				return err
			}
			return renderInstruments(raw)
		},
	}
}

func newTributeCmd(apiBase *string) *cobra.Command {
	var workspaceID string
	cmd := &cobra.Command{
		Use:   "tribute <instrument-key>",
		Short: "Offer a tribute and resolve it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			target := resolveWorkspace(workspaceID, session)
			if target == "" {
				return fmt.Errorf("no workspace selected; pass --workspace or run `klep use`")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).ResolveTribute(ctx, session.UserID, target, args[0], uuid.NewString())
			if err != nil {
				return err
			}
			return renderTribute(args[0], raw)
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace to charge (defaults to the saved one)")
	return cmd
}

func newWorkspaceCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Workspace balance and active effects",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <workspace-id>",
		Short: "Create a workspace with the starter balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := newClient(apiBase).EnsureWorkspace(ctx, session.UserID, args[0]); err != nil {
				return err
			}
			printSuccess("Workspace ready.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [workspace-id]",
		Short: "Show balance and active system effects",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			target := session.WorkspaceID
			if len(args) > 0 {
				target = args[0]
			}
			if target == "" {
				return fmt.Errorf("no workspace selected; pass an id or run `klep use`")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).WorkspaceState(ctx, session.UserID, target)
			if err != nil {
				return err
			}
			return renderWorkspace(raw)
		},
	})

	return cmd
}

func newLedgerCmd(apiBase *string) *cobra.Command {
	var workspaceID string
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show recent tribute resolutions",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			target := resolveWorkspace(workspaceID, session)
			if target == "" {
				return fmt.Errorf("no workspace selected; pass --workspace or run `klep use`")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).Ledger(ctx, session.UserID, target, limit)
			if err != nil {
				return err
			}
			return renderLedger(raw)
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace to read (defaults to the saved one)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows to fetch")
	return cmd
}

func newDiscoverCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "discover <instrument-key>",
		Short: "Record that an instrument was first seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := newClient(apiBase).RecordDiscovery(ctx, session.UserID, args[0]); err != nil {
				return err
			}
			printSuccess("Discovery recorded.")
			return nil
		},
	}
}

func resolveWorkspace(flagValue string, session cl.Session) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	return session.WorkspaceID
}
