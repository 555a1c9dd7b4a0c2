package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/supportchat/internal/completion"
	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/directory"
	"github.com/soyeahso/supportchat/internal/gateway"
	"github.com/soyeahso/supportchat/internal/hooks"
	"github.com/soyeahso/supportchat/internal/llm"
	"github.com/soyeahso/supportchat/internal/pacer"
	"github.com/soyeahso/supportchat/internal/router"
	"github.com/soyeahso/supportchat/internal/settings"
	"github.com/soyeahso/supportchat/internal/widget"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port    int
		bind    string
		storage string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}
			if storage != "" {
				cfg.Storage.Driver = storage
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().StringVar(&storage, "storage", "", "override storage driver (sqlite, memory)")

	return cmd
}

// serve wires the engine together and runs the HTTP server until ctx ends.
func serve(ctx context.Context, cfg config.Config) error {
	b, err := openBackends(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer b.Close()

	hookMgr := hooks.NewManager(log)
	hookMgr.OnAll("audit", hooks.AuditHandler(log))
	defer hookMgr.Wait()

	roster := directory.New(b.Agents, nil, log)

	prefs := settings.New(b.Settings, log)
	if err := prefs.Seed(ctx, cfg.Settings); err != nil {
		return fmt.Errorf("seeding settings: %w", err)
	}

	registry := llm.NewRegistryFromConfig(cfg.Completion, log)
	log.Info().Strs("providers", registry.List()).Str("model", cfg.Completion.Model).Msg("completion providers available")

	completer := completion.New(registry, completion.Config{
		Model:       cfg.Completion.Model,
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: cfg.Completion.Temperature,
		Timeout:     time.Duration(cfg.Completion.TimeoutSeconds) * time.Second,
	}, log)

	p := pacer.New(nil, nil, log)
	defer p.Close()

	rt := router.New(router.Deps{
		Conversations: b.Conversations,
		Roster:        roster,
		Settings:      prefs,
		Completer:     completer,
		Pacer:         p,
		Hooks:         hookMgr,
	}, cfg.Session.HistoryLimit, log)
	p.SetHandler(rt)

	srv := gateway.New(cfg.Server, gateway.Deps{
		Router:    rt,
		Directory: roster,
		Settings:  prefs,
		Widget:    widget.New(nil),
		Hooks:     hookMgr,
	}, log)
	defer srv.Close()
	p.SetNotifier(srv)

	return srv.Start(ctx)
}
