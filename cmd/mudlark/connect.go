package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/mudlark/mudlark/automation"
	"github.com/mudlark/mudlark/config"
	"github.com/mudlark/mudlark/session"
	"github.com/mudlark/mudlark/store"
	"github.com/mudlark/mudlark/style"
)

func defaultRulesPath() string {
	return filepath.Join(xdg.DataHome, "mudlark", "worlds.json")
}

func newConnectCmd() *cobra.Command {
	var (
		configPath string
		rulesPath  string
		world      string
	)

	cmd := &cobra.Command{
		Use:   "connect <host> <port>",
		Short: "Connect to a MUD server and run its automation rules",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := args[0]
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[1], err)
			}

			if configPath == "" {
				configPath = config.DefaultPath()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			repo, err := store.Open(rulesPath)
			if err != nil {
				return fmt.Errorf("opening rules store: %w", err)
			}

			if world == "" {
				world = host
			}
			engine := automation.NewEngine(cfg, repo, world)

			var closeOnce sync.Once
			done := make(chan struct{})

			sess, err := session.New(engine, session.Options{
				World:    world,
				Settings: cfg,
				Hooks: session.EventHooks{
					Fragments: []session.FragmentsHandler{
						func(_ *session.Session, fragments []style.Fragment) {
							renderFragments(os.Stdout, fragments)
						},
					},
					Disconnected: []session.DisconnectedHandler{
						func(s *session.Session, ev session.DisconnectEvent) {
							switch s.State() {
							case session.StateFailed, session.StateDisconnected:
								if ev.Cause != nil {
									fmt.Fprintln(os.Stderr, "connection lost:", ev.Cause)
								}
								closeOnce.Do(func() { close(done) })
							}
						},
					},
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := sess.Connect(ctx, host, port); err != nil {
				return err
			}

			// Stdin lines become outgoing commands; EOF hangs up.
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					if err := sess.Send(scanner.Text()); err != nil {
						fmt.Fprintln(os.Stderr, "send failed:", err)
					}
				}
				sess.Disconnect()
			}()

			select {
			case <-ctx.Done():
				sess.Disconnect()
			case <-done:
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the config file (default is the XDG config location)")
	cmd.Flags().StringVar(&rulesPath, "rules", defaultRulesPath(), "Path to the rule store")
	cmd.Flags().StringVar(&world, "world", "", "World name for rule scoping (default is the host)")

	return cmd
}
