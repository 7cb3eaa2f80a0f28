package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	forumchat "github.com/forumchat/forumchat-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var chatMetricsAddr string

func init() {
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join the live chat room",
	Long: "Join the live chat room. Each line typed is sent as a message.\n" +
		"Commands: /online lists who is here, /status shows the connection, /quit leaves.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := resolvedConfig()
		if cfg.Auth.UserID == "" {
			return fmt.Errorf("no user id configured; run 'forumchat config set auth.user_id <id>' first")
		}

		log := newLogger()
		defer log.Sync() //nolint:errcheck

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		metrics := forumchat.NewMetrics(reg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if chatMetricsAddr != "" {
			srv := serveMetrics(chatMetricsAddr, reg, log)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		client := getClient(cfg, log, forumchat.WithClientMetrics(metrics))
		notifier := forumchat.NotifierFunc(func(message string, severity forumchat.Severity) {
			fmt.Printf("* [%s] %s\n", severity, message)
		})

		conn := client.Realtime(nil, forumchat.WithNotifier(notifier))
		conn.Events().OnReconnecting(func(ev forumchat.ReconnectingEvent) {
			fmt.Printf("* reconnecting (attempt %d) in %s\n", ev.Attempt, ev.Delay)
		})

		identity := forumchat.NewStaticIdentity(forumchat.ID(cfg.Auth.UserID))
		session := forumchat.NewChatSession(conn, client.Chat(), identity,
			forumchat.WithLogger(log),
			forumchat.WithMetrics(metrics),
			forumchat.WithNotifier(notifier),
			forumchat.WithHistoryPageSize(cfg.Chat.PageSize),
		)
		session.OnHistory(func(history []forumchat.Message) {
			for _, m := range history {
				printMessage(m, m.IsOwn)
			}
			fmt.Printf("--- %d messages ---\n", len(history))
		})
		session.OnMessage(func(m forumchat.Message) {
			printMessage(m, m.IsOwn)
		})

		if err := session.Connect(); err != nil {
			return err
		}
		defer session.Disconnect()

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleLine(ctx, session, line); quit {
					return nil
				}
			}
		}
	},
}

// handleLine runs a slash command or sends the line. It reports whether the
// user asked to leave.
func handleLine(ctx context.Context, session *forumchat.ChatSession, line string) bool {
	switch strings.TrimSpace(line) {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/online":
		users := session.OnlineUsers()
		fmt.Printf("* %d online\n", len(users))
		for _, u := range users {
			fmt.Printf("    - %s\n", u.Username)
		}
		return false
	case "/status":
		fmt.Printf("* %s, %d messages loaded\n", session.Status(), len(session.Messages()))
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := session.Send(sendCtx, line)
	switch {
	case err == nil, errors.Is(err, forumchat.ErrDuplicateSuppressed):
	case errors.Is(err, forumchat.ErrNotReady):
		// Already surfaced as a notice.
	default:
		fmt.Printf("* send failed: %v\n", err)
	}
	return false
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}
