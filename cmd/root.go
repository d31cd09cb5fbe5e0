/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "menubot",
	Short: "Keyword menu bot for WhatsApp and Telegram",
	Long: `Menubot answers direct chat messages with a fixed keyword menu.

Run "menubot gateway" to connect a transport and serve customers, or
"menubot menu" to try the replies locally without connecting.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
