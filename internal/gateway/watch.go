package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/nextlevelbuilder/chatpilot/pkg/protocol"
)

// Watch dials the event feed at wsURL and calls fn for every frame until
// ctx is cancelled or the server closes the connection. A normal close
// returns nil.
func Watch(ctx context.Context, wsURL string, fn func(protocol.EventFrame)) error {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("watch: dial %s: %w", wsURL, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("watch: closed by server: %d %s", ce.Code, ce.Reason)
			}
			return fmt.Errorf("watch: read: %w", err)
		}

		var frame protocol.EventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("watch: undecodable frame", "error", err)
			continue
		}
		fn(frame)
	}
}
