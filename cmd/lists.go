package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/store"
	"github.com/nextlevelbuilder/chatpilot/internal/upgrade"
)

// withStore opens the configured store for a one-shot admin command.
func withStore(ctx context.Context, fn func(st store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := upgrade.Verify(ctx, db); err != nil {
		return err
	}
	return fn(st)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// normalizeKey requires the platform:id form used by the store.
func normalizeKey(arg string) (string, error) {
	platform, id := bus.SplitKey(strings.TrimSpace(arg))
	if platform == "" || id == "" {
		return "", fmt.Errorf("%q is not a platform:id key (e.g. discord:1234)", arg)
	}
	return bus.ScopedKey(platform, id), nil
}

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage server channels the bot answers in",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(st store.Store) error {
				list, err := st.ListActiveChannels(cmd.Context())
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No active channels.")
					return nil
				}
				tw := newTable()
				fmt.Fprintln(tw, "CHANNEL\tADDED BY\tADDED\tLAST ACTIVITY\tMESSAGES")
				for _, c := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", c.ChatKey, c.AddedBy, fmtTime(c.AddedAt), fmtTime(c.LastActivity), c.MessageCount)
				}
				return tw.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <platform:chat_id>",
		Short: "Activate a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := normalizeKey(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(st store.Store) error {
				if err := st.AddActiveChannel(cmd.Context(), key, "cli"); err != nil {
					return err
				}
				fmt.Printf("Activated %s\n", key)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <platform:chat_id>",
		Short: "Deactivate a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := normalizeKey(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(st store.Store) error {
				if err := st.RemoveActiveChannel(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Printf("Deactivated %s\n", key)
				return nil
			})
		},
	})
	return cmd
}

func ignoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ignore",
		Short: "Manage the ignore list",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List ignored users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(st store.Store) error {
				list, err := st.ListIgnoredUsers(cmd.Context())
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("Nobody is ignored.")
					return nil
				}
				tw := newTable()
				fmt.Fprintln(tw, "USER\tIGNORED BY\tSINCE\tREASON")
				for _, u := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.SenderKey, u.IgnoredBy, fmtTime(u.IgnoredAt), u.Reason)
				}
				return tw.Flush()
			})
		},
	})

	var reason string
	add := &cobra.Command{
		Use:   "add <platform:user_id>",
		Short: "Ignore a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := normalizeKey(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(st store.Store) error {
				if err := st.AddIgnoredUser(cmd.Context(), key, "cli", reason); err != nil {
					return err
				}
				fmt.Printf("Ignoring %s\n", key)
				return nil
			})
		},
	}
	add.Flags().StringVar(&reason, "reason", "", "why the user is ignored")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <platform:user_id>",
		Short: "Stop ignoring a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := normalizeKey(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(st store.Store) error {
				if err := st.RemoveIgnoredUser(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Printf("No longer ignoring %s\n", key)
				return nil
			})
		},
	})
	return cmd
}

func logsCmd() *cobra.Command {
	var limit int
	var sender string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent conversations and errors",
	}
	conv := &cobra.Command{
		Use:   "conversations",
		Short: "Show recent answered turns, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sender != "" {
				key, err := normalizeKey(sender)
				if err != nil {
					return err
				}
				sender = key
			}
			return withStore(cmd.Context(), func(st store.Store) error {
				list, err := st.RecentConversations(cmd.Context(), sender, limit)
				if err != nil {
					return err
				}
				tw := newTable()
				fmt.Fprintln(tw, "TIME\tUSER\tCHAT\tPROMPT\tRESPONSE")
				for _, c := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", fmtTime(c.CreatedAt), c.SenderKey, c.ChatKey,
						bus.Preview(c.Prompt, 40), bus.Preview(c.Response, 40))
				}
				return tw.Flush()
			})
		},
	}
	conv.Flags().StringVar(&sender, "user", "", "only this platform:user_id")
	errs := &cobra.Command{
		Use:   "errors",
		Short: "Show recent error reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(st store.Store) error {
				list, err := st.RecentErrors(cmd.Context(), limit)
				if err != nil {
					return err
				}
				tw := newTable()
				fmt.Fprintln(tw, "TIME\tCONTEXT\tCHAT\tERROR")
				for _, e := range list {
					chat := "-"
					if e.Platform != "" {
						chat = bus.ScopedKey(e.Platform, e.ChatID)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", fmtTime(e.CreatedAt), e.Context, chat, bus.Preview(e.Message, 60))
				}
				return tw.Flush()
			})
		},
	}
	cmd.PersistentFlags().IntVarP(&limit, "limit", "n", 20, "number of rows")
	cmd.AddCommand(conv, errs)
	return cmd
}
