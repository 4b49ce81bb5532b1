package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "colonycore/internal/cli"
	"colonycore/internal/config"
	"colonycore/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "colonyctl",
		Short:        "Lunar colony command line client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "colony API base URL")

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newColonyCmd(&apiBase),
		newMarketCmd(&apiBase),
		newDepthCmd(&apiBase),
		newModifiersCmd(&apiBase),
		newLedgerCmd(&apiBase),
		newBuildCmd(&apiBase),
		newModuleCmd(&apiBase, "upgrade", "Upgrade a module one level"),
		newModuleCmd(&apiBase, "toggle", "Switch a module on or off"),
		newModuleCmd(&apiBase, "repair", "Restore a module to full efficiency"),
		newModuleCmd(&apiBase, "demolish", "Demolish a module for a partial refund"),
		newCollectCmd(&apiBase),
		newTradeCmd(&apiBase),
		newRecruitCmd(&apiBase),
		newAssignCmd(&apiBase),
		newDailyCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) (*cl.Client, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("login required: %w", err)
	}
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"), sess.PlayerID), nil
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [player-id]",
		Short: "Remember the player id sent with every request",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var playerID string
			if len(args) == 1 {
				playerID = strings.TrimSpace(args[0])
			} else {
				var err error
				if playerID, err = promptRequired("Player ID"); err != nil {
					return err
				}
			}
			if err := cl.SaveSession(cl.Session{PlayerID: playerID}); err != nil {
				return err
			}
			printSuccess("Logged in as " + playerID + ".")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local player id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

// read runs one GET against the API and hands the body to render.
func read(cmd *cobra.Command, apiBase *string, get func(context.Context, *cl.Client) (map[string]any, error), render func(map[string]any) error) error {
	client, err := newClient(apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	out, err := get(ctx, client)
	if err != nil {
		return err
	}
	return render(out)
}

// write sends a state change with a fresh idempotency key. Transport
// failures queue the write for `colonyctl sync`.
func write(cmd *cobra.Command, apiBase *string, w cl.Write, render func(map[string]any) error) error {
	client, err := newClient(apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	idem := uuid.NewString()
	out, err := client.Send(ctx, w, idem)
	if err != nil {
		return queueOnNetworkError(err, syncq.Command{
			Method:         w.Method,
			Path:           w.Path,
			Body:           w.Body,
			IdempotencyKey: idem,
		})
	}
	return render(out)
}

func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	if qerr := syncq.Push(q); qerr != nil {
		return fmt.Errorf("request failed: %w (queue: %v)", err, qerr)
	}
	printWarn(fmt.Sprintf("API unreachable (%v). Queued %s %s for `colonyctl sync`.", err, q.Method, q.Path))
	return nil
}

func newColonyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "colony",
		Aliases: []string{"status"},
		Short:   "Show modules, crew, pending earnings and active modifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return read(cmd, apiBase, func(ctx context.Context, c *cl.Client) (map[string]any, error) {
				return c.Colony(ctx)
			}, renderColony)
		},
	}
}

func newMarketCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "List resource prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return read(cmd, apiBase, func(ctx context.Context, c *cl.Client) (map[string]any, error) {
				return c.Market(ctx)
			}, renderMarket)
		},
	}
}

func newDepthCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "depth <resource>",
		Short: "Show the order book a trade would fill against",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return read(cmd, apiBase, func(ctx context.Context, c *cl.Client) (map[string]any, error) {
				return c.Depth(ctx, strings.ToUpper(args[0]))
			}, renderDepth)
		},
	}
}

func newModifiersCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "modifiers",
		Short: "Show the event modifiers affecting you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return read(cmd, apiBase, func(ctx context.Context, c *cl.Client) (map[string]any, error) {
				return c.Modifiers(ctx)
			}, renderModifiers)
		},
	}
}

func newLedgerCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show recent ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return read(cmd, apiBase, func(ctx context.Context, c *cl.Client) (map[string]any, error) {
				return c.Ledger(ctx, limit)
			}, renderLedger)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "entries to show")
	return cmd
}

func newBuildCmd(apiBase *string) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "build <type> <x> <y>",
		Short: "Build a module on a free grid cell",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid x: %w", err)
			}
			y, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid y: %w", err)
			}
			w := cl.BuildWrite(strings.ToUpper(args[0]), strings.ToUpper(tier), x, y)
			return write(cmd, apiBase, w, renderModuleResult("Built"))
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "COMMON", "module tier")
	return cmd
}

func newModuleCmd(apiBase *string, verb, short string) *cobra.Command {
	past := map[string]string{
		"upgrade":  "Upgraded",
		"toggle":   "Toggled",
		"repair":   "Repaired",
		"demolish": "Demolished",
	}[verb]
	return &cobra.Command{
		Use:   verb + " <module-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, apiBase, cl.ModuleWrite(verb, args[0]), renderModuleResult(past))
		},
	}
}

func newCollectCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Collect accrued production earnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, apiBase, cl.CollectWrite(), renderCollect)
		},
	}
}

func newTradeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "trade <buy|sell> <resource> <quantity>",
		Short: "Buy or sell a resource at market",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			side := strings.ToLower(args[0])
			if side != "buy" && side != "sell" {
				return fmt.Errorf("side must be buy or sell")
			}
			qty, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil || qty <= 0 {
				return fmt.Errorf("quantity must be a positive whole number")
			}
			return write(cmd, apiBase, cl.TradeWrite(strings.ToUpper(args[1]), side, qty), renderTrade)
		},
	}
}

func newRecruitCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "recruit",
		Short: "Recruit a crew member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, apiBase, cl.RecruitWrite(), renderCrew)
		},
	}
}

func newAssignCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <crew-id> [module-id]",
		Short: "Assign crew to a module, or unassign without a module",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			moduleID := ""
			if len(args) == 2 {
				moduleID = args[1]
			}
			return write(cmd, apiBase, cl.AssignWrite(args[0], moduleID), renderCrew)
		},
	}
}

func newDailyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Claim the daily reward",
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, apiBase, cl.DailyWrite(), renderDaily)
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(apiBase)
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			replay := func(q syncq.Command) error {
				_, err := client.Do(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey)
				if err != nil {
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
				}
				return err
			}
			keep := func(err error) bool { return !cl.IsAPIError(err) }
			replayed, dropped, remaining, err := syncq.Drain(replay, keep)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d rejected=%d remaining=%d", replayed, dropped, len(remaining)))
			return nil
		},
	}
}
