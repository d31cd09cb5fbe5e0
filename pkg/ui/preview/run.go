// Package preview renders menu router replies in the terminal without a live transport.
package preview

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"menubot/pkg/menu"
)

// RunInteractive opens the preview TUI. catalog names the loaded catalog file, empty for
// the built-in texts.
func RunInteractive(router *menu.Router, catalog string) error {
	program := tea.NewProgram(newModel(router, catalog), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

// RenderOneShot returns the styled exchange for a single customer message.
func RenderOneShot(router *menu.Router, text string, width int) string {
	if width < 40 {
		width = 40
	}

	item := exchange{text: text, decision: router.Route(text)}
	return lipgloss.JoinVertical(lipgloss.Left, renderExchange(defaultTheme(), width, item)...) + "\n"
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("28")).
		Padding(1, 2)

	return style.Render("👋 Até logo!")
}
