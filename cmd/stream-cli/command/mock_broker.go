package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradegateway/internal/streaming"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var mockBrokerCmd = &cobra.Command{
	Use:   "mock-broker",
	Short: "Serve a local broker stream emitting encoded price frames",
	Long: `mock-broker serves a WebSocket endpoint compatible with the gateway's upstream
connector. Every interval it sends one binary frame holding a price message for each
reference id. Point STREAMING_URL at ws://<addr>/streamingws/connect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		refs, _ := cmd.Flags().GetStringSlice("refs")
		interval, _ := cmd.Flags().GetDuration("interval")
		resetAfter, _ := cmd.Flags().GetInt("reset-after")

		if len(refs) == 0 {
			return errors.New("--refs needs at least one reference id")
		}
		if interval <= 0 {
			return errors.New("--interval must be positive")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker := &mockBroker{refs: refs, interval: interval, resetAfter: resetAfter}
		return broker.serve(ctx, addr)
	},
}

func init() {
	mockBrokerCmd.Flags().String("addr", ":9000", "listen address")
	mockBrokerCmd.Flags().StringSlice("refs", []string{"TF_UIC21"}, "reference ids to emit")
	mockBrokerCmd.Flags().Duration("interval", time.Second, "time between frames")
	mockBrokerCmd.Flags().Int("reset-after", 0, "ask the client to reset after N frames (0 = never)")
	rootCmd.AddCommand(mockBrokerCmd)
}

type mockBroker struct {
	refs       []string
	interval   time.Duration
	resetAfter int
	upgrader   websocket.Upgrader
}

func (b *mockBroker) serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/streamingws/connect", b.handle)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	color.Green("🚀 mock broker listening on %s/streamingws/connect", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (b *mockBroker) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	slog.Info("mock_client_connected",
		"context_id", r.URL.Query().Get("contextId"),
		"remote_addr", r.RemoteAddr,
	)

	// reading keeps the default ping handler answering pongs
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	prices := newPriceWalk(b.refs)
	var id uint64
	sent := 0
	for {
		select {
		case <-closed:
			slog.Info("mock_client_disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame, err := mockFrame(&id, b.refs, prices)
			if err != nil {
				slog.Error("mock_frame_failed", "error", err.Error())
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
			sent++
			if b.resetAfter > 0 && sent >= b.resetAfter {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"ResetRequired":true}`))
				sent = 0
			}
		}
	}
}

// priceWalk is a random walk of mid prices per reference id.
type priceWalk map[string]float64

func newPriceWalk(refs []string) priceWalk {
	p := make(priceWalk, len(refs))
	for _, ref := range refs {
		p[ref] = 1.1
	}
	return p
}

func (p priceWalk) next(ref string) float64 {
	p[ref] += (rand.Float64() - 0.5) / 1000
	return p[ref]
}

type quote struct {
	Bid float64 `json:"Bid"`
	Ask float64 `json:"Ask"`
}

// mockFrame encodes one message per ref into a single binary frame,
// advancing *id for each message.
func mockFrame(id *uint64, refs []string, prices priceWalk) ([]byte, error) {
	var frame []byte
	for _, ref := range refs {
		mid := prices.next(ref)
		payload, err := json.Marshal(map[string]any{
			"Quote":       quote{Bid: mid - 0.0001, Ask: mid + 0.0001},
			"LastUpdated": time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}

		*id++
		b, err := streaming.Encode(streaming.Message{
			ID:          *id,
			ReferenceID: ref,
			Format:      streaming.FormatJSON,
			Payload:     payload,
		})
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", ref, err)
		}
		frame = append(frame, b...)
	}
	return frame, nil
}
