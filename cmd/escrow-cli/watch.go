package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"nhooyr.io/websocket"
)

// wsDial is swapped out by tests.
var wsDial = websocket.Dial

func (c *cli) watch(ctx context.Context, args []string) error {
	fs := newFlagSet("watch", c.stderr)
	after := fs.Uint64("after", 0, "replay records with a sequence above this cursor first")
	count := fs.Int("count", 0, "stop after this many records (0 follows until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count < 0 {
		return errors.New("--count must not be negative")
	}
	target, err := c.client.websocketURL("/v1/events/stream?after=" + strconv.FormatUint(*after, 10))
	if err != nil {
		return err
	}
	token, err := bearerToken()
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := wsDial(ctx, target, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("open event stream: HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("open event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for seen := 0; *count == 0 || seen < *count; seen++ {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		var line bytes.Buffer
		if err := json.Compact(&line, data); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		line.WriteByte('\n')
		if _, err := line.WriteTo(c.stdout); err != nil {
			return err
		}
	}
	return nil
}
