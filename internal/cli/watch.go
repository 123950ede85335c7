package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/spinroom/internal/api/response"
	"github.com/mcoot/spinroom/internal/dependencies/random"
	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/session"
)

type watchOptions struct {
	rooms        []string
	autoSettle   bool
	noLive       bool
	noPoll       bool
	pollInterval time.Duration
	duration     time.Duration
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow events as they happen",
		Long: `Stay attached to the server and print every event addressed to you.

Events arrive over the websocket live channel; the notification mailbox is
polled alongside it so nothing sent while disconnected is lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.rooms, "room", nil, "Room id to follow (repeatable)")
	cmd.Flags().BoolVar(&opts.autoSettle, "auto-settle", false, "Settle each resolved round once")
	cmd.Flags().BoolVar(&opts.noLive, "no-live", false, "Disable the websocket live channel")
	cmd.Flags().BoolVar(&opts.noPoll, "no-poll", false, "Disable mailbox polling")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", time.Second, "Mailbox poll interval")
	cmd.Flags().DurationVar(&opts.duration, "for", 0, "Stop after this long (0 runs until interrupted)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts watchOptions) error {
	if opts.noLive && opts.noPoll {
		return errors.New("--no-live and --no-poll cannot both be set")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	var me response.User
	if err := client.Get(ctx, "/api/v1/users/me", &me); err != nil {
		return err
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	mgr := session.New(session.Config{
		ServerURL:      cfg.ServerURL,
		Token:          cfg.Token,
		UserID:         model.UserID(me.ID),
		PollInterval:   opts.pollInterval,
		DisableLive:    opts.noLive,
		DisablePolling: opts.noPoll,
	}, random.New(), logger)

	out := outputFor(cmd)
	var mu sync.Mutex
	mgr.OnAny(func(_ context.Context, ev model.Event) {
		mu.Lock()
		defer mu.Unlock()
		if cfg.Output == "json" {
			out.Print(map[string]any{"type": ev.EventType(), "data": ev})
			return
		}
		out.Print(ev)
	})

	if opts.autoSettle {
		guard, err := session.NewRoundGuard(session.DefaultRoundGuardSize)
		if err != nil {
			return err
		}
		mgr.On(model.EventSpinBothReady, func(ctx context.Context, ev model.Event) {
			spin := ev.(*model.SpinBothReadyPayload)
			guard.Once(spin.RoomID, spin.SpinStartTime, func() {
				settleRound(ctx, out, &mu, logger, spin.RoomID)
			})
		})
	}

	for _, id := range opts.rooms {
		mgr.JoinRoom(model.RoomID(id))
	}

	err := mgr.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func settleRound(ctx context.Context, out *Output, mu *sync.Mutex, logger *slog.Logger, roomID model.RoomID) {
	var result response.SettleResponse
	if err := client.Post(ctx, roomPath(string(roomID))+"/settle", nil, &result); err != nil {
		logger.Warn("auto-settle failed",
			slog.String("room_id", string(roomID)),
			slog.String("error", err.Error()))
		return
	}
	mu.Lock()
	defer mu.Unlock()
	out.Print(result)
}
