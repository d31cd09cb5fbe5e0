/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strings"

	"menubot/pkg/config"
	"menubot/pkg/menu"
	"menubot/pkg/ui/preview"

	"github.com/spf13/cobra"
)

var menuText string

// menuCmd represents the menu command
var menuCmd = &cobra.Command{
	Use:   "menu [text]",
	Short: "Preview menu replies without connecting",
	Long:  "Loads the configured reply catalog and shows what the bot would answer to one message, or opens an interactive preview.",
	Run: func(cmd *cobra.Command, args []string) {
		text := resolveText(args)

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		catalog, err := menu.LoadCatalog(cfg.Menu.CatalogPath)
		if err != nil {
			fmt.Printf("failed to load menu catalog: %v\n", err)
			return
		}
		router := menu.NewRouter(catalog)

		if text != "" {
			fmt.Fprint(cmd.OutOrStdout(), preview.RenderOneShot(router, text, 72))
			return
		}

		if err := preview.RunInteractive(router, cfg.Menu.CatalogPath); err != nil {
			fmt.Printf("preview failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(menuCmd)
	menuCmd.Flags().StringVarP(&menuText, "text", "t", "", "customer message to route")
}

func resolveText(args []string) string {
	if value := strings.TrimSpace(menuText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}
