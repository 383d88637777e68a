package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatpilot/internal/gateway"
	"github.com/nextlevelbuilder/chatpilot/pkg/protocol"
)

func watchCmd() *cobra.Command {
	var addr string
	var raw bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live events from a running bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				addr = cfg.Gateway.Addr()
			}
			url := addr
			if !strings.Contains(url, "://") {
				url = "ws://" + url
			}
			url = strings.TrimSuffix(url, "/") + "/ws"

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return gateway.Watch(ctx, url, func(f protocol.EventFrame) {
				if raw {
					data, _ := json.Marshal(f)
					fmt.Println(string(data))
					return
				}
				payload, _ := json.Marshal(f.Payload)
				fmt.Printf("%s #%d %-8s %s\n", f.Time.Local().Format("15:04:05"), f.Seq, f.Event, payload)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway host:port (default: from config)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print frames as JSON lines")
	return cmd
}
