package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cl "tycoon/internal/cli"
	"tycoon/internal/config"
	"tycoon/internal/game"
	"tycoon/internal/num"
	"tycoon/internal/syncq"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "tycoon",
		Short:        "Tycoon simulation client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "game server base URL")

	root.AddCommand(
		newSimulateCmd(),
		newClockCmd(&apiBase),
		newAdvanceCmd(&apiBase),
		newAssetsCmd(&apiBase),
		newOrderCmd(&apiBase, "buy"),
		newOrderCmd(&apiBase, "sell"),
		newPortfolioCmd(&apiBase),
		newMultipliersCmd(&apiBase),
		newBonusCmd(&apiBase),
		newPrestigeCmd(&apiBase),
		newResetCmd(&apiBase),
		newSavesCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

// newSimulateCmd runs the game in-process with no server, for balance
// checks and reproducible runs.
func newSimulateCmd() *cobra.Command {
	var (
		ticks       int64
		seed        int64
		balancePath string
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the market locally for a number of ticks",
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := config.LoadBalance(balancePath)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if verbose {
				logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
			}
			svc, err := game.NewService(game.Options{Balance: balance, Seed: seed, Logger: logger})
			if err != nil {
				return err
			}
			started := time.Now()
			status, err := svc.Advance(cmd.Context(), ticks)
			if err != nil {
				return err
			}
			accent.Printf("\n== SIMULATION (seed %d) ==\n", seed)
			fmt.Printf("Ticks:     %d\n", status.Tick)
			if every, err := time.ParseDuration(status.TickEvery); err == nil {
				fmt.Printf("Game time: %s\n", time.Duration(status.Tick)*every)
			}
			fmt.Printf("Wall time: %s\n", time.Since(started).Round(time.Millisecond))
			renderAssets(svc.Assets())
			return nil
		},
	}
	cmd.Flags().Int64Var(&ticks, "ticks", 10_000, "ticks to simulate")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().StringVar(&balancePath, "balance", "", "balance YAML file (defaults to built-in balance)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log regime changes")
	return cmd
}

func newClockCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:       "clock [status|start|stop|pause|resume]",
		Short:     "Inspect or control the tick scheduler",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"status", "start", "stop", "pause", "resume"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			client := newClient(apiBase)
			action := "status"
			if len(args) > 0 {
				action = strings.ToLower(strings.TrimSpace(args[0]))
			}
			var (
				status game.ClockStatus
				err    error
			)
			switch action {
			case "status":
				status, err = client.Clock(ctx)
			case "start", "stop", "pause", "resume":
				status, err = client.ClockAction(ctx, action)
			default:
				return fmt.Errorf("unknown clock action %q", action)
			}
			if err != nil {
				return err
			}
			renderClock(status)
			return nil
		},
	}
}

func newAdvanceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <ticks>",
		Short: "Fast-forward the game by a number of ticks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid tick count %q", args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			status, err := newClient(apiBase).Advance(ctx, n)
			if err != nil {
				return err
			}
			renderClock(status)
			return nil
		},
	}
}

func newAssetsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "assets [ID]",
		Short:   "List assets or inspect one",
		Aliases: []string{"market"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			client := newClient(apiBase)
			if len(args) == 0 {
				assets, err := client.Assets(ctx)
				if err != nil {
					return err
				}
				renderAssets(assets)
				return nil
			}
			id, err := assetIDArg(args[0])
			if err != nil {
				return err
			}
			asset, err := client.Asset(ctx, id)
			if err != nil {
				return err
			}
			renderAssetDetail(asset)
			return nil
		},
	}
}

func newOrderCmd(apiBase *string, side string) *cobra.Command {
	return &cobra.Command{
		Use:   side + " <ID> <amount>",
		Short: strings.ToUpper(side[:1]) + side[1:] + " units of an asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := assetIDArg(args[0])
			if err != nil {
				return err
			}
			amount, err := num.Parse(strings.TrimSpace(args[1]))
			if err != nil || !amount.IsPositive() {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			return placeOrderCommand(cmd, apiBase, side, id, amount)
		},
	}
}

func placeOrderCommand(cmd *cobra.Command, apiBase *string, side, id string, amount num.Decimal) error {
	idem := uuid.NewString()
	ctx, cancel := requestContext(cmd)
	defer cancel()
	out, err := newClient(apiBase).PlaceOrder(ctx, id, side, amount, idem)
	if err != nil {
		body, encErr := json.Marshal(game.OrderInput{AssetID: id, Side: side, Amount: amount})
		if encErr != nil {
			return err
		}
		return queueOnNetworkError(err, syncq.Command{
			Method:         "POST",
			Path:           "/v1/orders",
			Body:           body,
			IdempotencyKey: idem,
		})
	}
	renderTrade(out)
	return nil
}

func newPortfolioCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "portfolio",
		Short:   "Show cash, positions and P/L",
		Aliases: []string{"dash"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			folio, err := newClient(apiBase).Portfolio(ctx)
			if err != nil {
				return err
			}
			renderPortfolio(folio)
			return nil
		},
	}
}

func newMultipliersCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "multipliers [category]",
		Short:   "Show effective multipliers or one category's breakdown",
		Aliases: []string{"mults"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			client := newClient(apiBase)
			if len(args) == 0 {
				views, err := client.Multipliers(ctx)
				if err != nil {
					return err
				}
				renderMultipliers(views)
				return nil
			}
			view, err := client.Multiplier(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			renderBreakdown(view)
			return nil
		},
	}
}

func newBonusCmd(apiBase *string) *cobra.Command {
	bonus := &cobra.Command{
		Use:   "bonus",
		Short: "Add or remove multiplier contributions",
	}

	var (
		kind string
		mode string
		id   string
	)
	add := &cobra.Command{
		Use:   "add <source> <category> <value>",
		Short: "Add a contribution; value is a fraction, e.g. 0.1 for +10%",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := num.Parse(strings.TrimSpace(args[2]))
			if err != nil {
				return fmt.Errorf("invalid value %q", args[2])
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			client := newClient(apiBase)
			category := strings.TrimSpace(args[1])
			newID, err := client.AddContribution(ctx, game.ContributionInput{
				ID:       id,
				Source:   args[0],
				Kind:     kind,
				Category: category,
				Value:    value,
				Mode:     mode,
			})
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Contribution %s added.", newID))
			view, err := client.Multiplier(ctx, category)
			if err != nil {
				return err
			}
			renderBreakdown(view)
			return nil
		},
	}
	add.Flags().StringVar(&kind, "kind", "upgrade", "skill, prestige, perk, era, milestone, event, achievement or upgrade")
	add.Flags().StringVar(&mode, "mode", "", "multiplicative or additive (defaults to the category rule)")
	add.Flags().StringVar(&id, "id", "", "stable id; re-adding the same id replaces it")

	rm := &cobra.Command{
		Use:     "rm <id>",
		Short:   "Remove a contribution",
		Aliases: []string{"remove"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := newClient(apiBase).RemoveContribution(ctx, args[0]); err != nil {
				return err
			}
			printSuccess("Contribution removed.")
			return nil
		},
	}

	bonus.AddCommand(add, rm)
	return bonus
}

func newPrestigeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prestige <points>",
		Short: "Prestige: bank points and clear non-prestige bonuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := num.Parse(strings.TrimSpace(args[0]))
			if err != nil || points.Sign() < 0 {
				return fmt.Errorf("invalid points %q", args[0])
			}
			ok, err := promptConfirm("Prestige resets your portfolio and skill bonuses. Continue?")
			if err != nil || !ok {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).PrestigeReset(ctx, points)
			if err != nil {
				return err
			}
			renderPrestige(out)
			return nil
		},
	}
}

func newResetCmd(apiBase *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Hard reset the game to tick 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := promptConfirm("Hard reset wipes all progress. Continue?")
				if err != nil || !ok {
					return err
				}
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			status, err := newClient(apiBase).HardReset(ctx)
			if err != nil {
				return err
			}
			printWarn("Game reset.")
			renderClock(status)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func newSavesCmd(apiBase *string) *cobra.Command {
	saves := &cobra.Command{
		Use:   "saves",
		Short: "List, write and load save slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			recs, err := newClient(apiBase).Saves(ctx)
			if err != nil {
				return err
			}
			renderSaves(recs)
			return nil
		},
	}
	saves.AddCommand(&cobra.Command{
		Use:   "write <slot>",
		Short: "Save the game into a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Save(ctx, args[0])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Saved slot %s at tick %d (%d bytes).", out.Slot, out.Tick, out.Bytes))
			return nil
		},
	})
	saves.AddCommand(&cobra.Command{
		Use:   "load <slot>",
		Short: "Replace the running game with a saved slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			tick, err := newClient(apiBase).Load(ctx, args[0])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Loaded slot %s at tick %d.", args[0], tick))
			return nil
		},
	})
	return saves
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay orders queued while the server was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openQueue()
			if err != nil {
				return err
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			pending, err := queue.Load()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			sent, failures, err := queue.Drain(func(q syncq.Command) error {
				if err := client.Replay(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey); err != nil {
					// A rejected command will be rejected again; only
					// network failures stay queued.
					if cl.IsNetworkError(err) {
						return err
					}
					printError(fmt.Sprintf("Dropped %s %s: %v", q.Method, q.Path, err))
				}
				return nil
			})
			for _, f := range failures {
				printError(fmt.Sprintf("Sync failed: %v", f))
			}
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", sent, len(failures)))
			return nil
		},
	}
}

func openQueue() (*syncq.Queue, error) {
	dir, err := syncq.DefaultDir()
	if err != nil {
		return nil, err
	}
	return syncq.Open(dir)
}

func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if !cl.IsNetworkError(err) {
		return err
	}
	queue, qErr := openQueue()
	if qErr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", err)
	}
	if qErr := queue.Push(q); qErr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", err)
	}
	printWarn("Server unreachable. Order queued; run `tycoon sync` to replay it.")
	return nil
}

func assetIDArg(arg string) (string, error) {
	id := game.NormalizeAssetID(arg)
	if err := game.ValidateAssetID(id); err != nil {
		return "", err
	}
	return id, nil
}
