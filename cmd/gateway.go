package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"menubot/pkg/channel"
	"menubot/pkg/channel/telegram"
	"menubot/pkg/channel/whatsapp"
	"menubot/pkg/config"
	"menubot/pkg/console"
	"menubot/pkg/gateway"
	"menubot/pkg/logger"
	"menubot/pkg/menu"
	"menubot/pkg/supervisor"

	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Connect the configured transport and answer customers",
	Long:  "Connects to WhatsApp or Telegram, keeps the session alive across disconnects, and answers direct messages from the keyword menu.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		catalog, err := menu.LoadCatalog(cfg.Menu.CatalogPath)
		if err != nil {
			log.Error("Menu catalog invalid", "error", err)
			return
		}

		transport, err := buildTransport(cfg, appLogger)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}
		if closer, ok := transport.(io.Closer); ok {
			defer func() {
				if err := closer.Close(); err != nil {
					log.Warn("Failed to close transport", "error", err)
				}
			}()
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		printer := console.NewPrinter(cmd.OutOrStdout(), cfg.Channels.WhatsApp.ShouldPrintQR())
		svc, err := gateway.NewService(cfg, transport, menu.NewRouter(catalog), printer, appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started", "transport", transport.Name(), "catalog", cfg.Menu.CatalogPath)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, supervisor.ErrHalted) {
				log.Warn("Session halted", "error", err)
				fmt.Fprintln(cmd.ErrOrStderr(), haltedHint(cfg))
				os.Exit(1)
			}
			log.Error("Gateway runtime failed", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func buildTransport(cfg *config.Config, log *slog.Logger) (channel.Transport, error) {
	switch cfg.Transport {
	case config.TransportWhatsApp:
		transport, err := whatsapp.New(whatsapp.Options{StoreDir: cfg.Channels.WhatsApp.StoreDir, Log: log})
		if err != nil {
			return nil, fmt.Errorf("configure %s transport: %w", config.TransportWhatsApp, err)
		}
		return transport, nil
	case config.TransportTelegram:
		transport, err := telegram.NewTransport(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s transport: %w", config.TransportTelegram, err)
		}
		return transport, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func haltedHint(cfg *config.Config) string {
	if cfg.Transport == config.TransportTelegram {
		return "Telegram rejected the bot token. Update channels.telegram.token and restart."
	}
	return fmt.Sprintf("WhatsApp session ended. Remove %s and restart to scan a new QR code.", cfg.Channels.WhatsApp.StoreDir)
}
