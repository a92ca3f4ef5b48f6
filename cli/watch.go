package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justbri/shelfmark/client"
	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/format"
)

type watchOptions struct {
	server   string
	username string
	password string
}

// NewWatchCommand follows a running server and prints the caller's request
// counts every time they change.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow request changes on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := format.FirstNonEmpty(opts.server, "http://localhost:"+rootOpts.Config().ServerPort)
			password := format.FirstNonEmpty(opts.password, os.Getenv("SHELFMARK_PASSWORD"))
			return runWatch(ctx, cmd.OutOrStdout(), server, opts.username, password)
		},
	}
	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "server URL (default http://localhost:<port>)")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "account to log in as")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "password (or SHELFMARK_PASSWORD)")
	cmd.MarkFlagRequired("username")
	return cmd
}

func runWatch(ctx context.Context, out io.Writer, server, username, password string) error {
	api, err := client.NewAPI(server, nil)
	if err != nil {
		return err
	}
	who, err := api.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer api.Logout(context.Background())
	fmt.Fprintf(out, "Watching %s as %s\n", server, who.Username)

	sub := client.NewLiveSubscription(ctx, func(ctx context.Context) (*client.PushSubscription, error) {
		return client.DialPush(ctx, api)
	}, client.LiveOptions{})
	defer sub.Close()

	var rec *client.Reconciler
	rec = client.NewReconciler(api, func(view []models.Request) {
		fmt.Fprintln(out, summarize(len(view), rec.Counts(), sub.Mode()))
	})

	err = rec.Run(ctx, sub)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func summarize(visible int, counts *client.Counts, mode client.Mode) string {
	parts := []string{fmt.Sprintf("[%s] %d requests", mode, visible)}
	if counts != nil {
		for _, s := range models.Statuses {
			if n := counts.ByStatus[s]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", s, n))
			}
		}
		if counts.Unviewed != nil {
			parts = append(parts, fmt.Sprintf("unviewed=%d", *counts.Unviewed))
		}
	}
	return strings.Join(parts, " ")
}
