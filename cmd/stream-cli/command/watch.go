package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [reference_id]",
	Short: "Print messages from /ws/all or /ws/<reference_id>",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ""
		if len(args) == 1 {
			ref = args[0]
		}
		raw, _ := cmd.Flags().GetBool("raw")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		target, err := streamURL(gatewayURL, ref)
		if err != nil {
			return err
		}
		return watch(ctx, target, raw)
	},
}

func init() {
	watchCmd.Flags().Bool("raw", false, "print the JSON envelope as received")
	rootCmd.AddCommand(watchCmd)
}

// streamURL joins the gateway base with /ws/all or /ws/<ref>.
func streamURL(base, ref string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("gateway URL must be ws:// or wss://, got %q", base)
	}

	path := "all"
	if ref != "" {
		path = url.PathEscape(ref)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + path
	return u.String(), nil
}

func watch(ctx context.Context, target string, raw bool) error {
	fmt.Printf("\n🔌 Connecting to %s...\n", target)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()
	color.Green("✅ Connected! Press Ctrl+C to stop\n")

	done := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			if raw {
				fmt.Println(string(data))
				continue
			}
			fmt.Println(formatMessage(data))
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		fmt.Println("Closing connection...")
		return nil
	case err := <-done:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			color.Yellow("🔔 gateway closed the stream")
			return nil
		}
		return fmt.Errorf("read failed: %w", err)
	}
}

type envelope struct {
	MessageID   uint64          `json:"message_id"`
	ReferenceID string          `json:"reference_id"`
	Payload     json.RawMessage `json:"payload"`
}

// formatMessage renders one envelope as "[ref] #id payload".
func formatMessage(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return color.RedString("unreadable message: %s", string(data))
	}
	return fmt.Sprintf("%s %s %s",
		color.CyanString("[%s]", env.ReferenceID),
		color.YellowString("#%d", env.MessageID),
		string(env.Payload),
	)
}
