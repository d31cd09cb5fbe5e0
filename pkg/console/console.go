// Package console prints operator-facing connection status lines.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mdp/qrterminal/v3"

	"menubot/pkg/bus"
)

type theme struct {
	connecting lipgloss.Style
	open       lipgloss.Style
	closed     lipgloss.Style
	halted     lipgloss.Style
	hint       lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		connecting: lipgloss.NewStyle().
			Foreground(lipgloss.Color("180")),
		open: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		closed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true),
		halted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
	}
}

// Printer renders lifecycle events from the bus to an operator terminal.
type Printer struct {
	out     io.Writer
	printQR bool
	styles  theme

	mu sync.Mutex
}

func NewPrinter(out io.Writer, printQR bool) *Printer {
	return &Printer{out: out, printQR: printQR, styles: defaultTheme()}
}

// Run prints events from sub until the subscription closes.
func (p *Printer) Run(sub <-chan bus.Event) {
	for event := range sub {
		p.Print(event)
	}
}

// Print writes the line for one event. Events without an operator line are ignored.
func (p *Printer) Print(event bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Type {
	case bus.EventSessionConnecting:
		p.line(p.styles.connecting, fmt.Sprintf("Conectando ao %s...", serviceName(event.Channel)))
	case bus.EventSessionOpen:
		p.line(p.styles.open, "Conectado com sucesso!")
	case bus.EventSessionClosed:
		reconnect := event.Payload[bus.PayloadReconnect]
		if reconnect == "" {
			reconnect = "false"
		}
		p.line(p.styles.closed, "Conexão encerrada. Reconectando? "+reconnect)
		if event.Error != "" {
			p.line(p.styles.hint, "  "+event.Error)
		}
	case bus.EventSessionHalted:
		p.line(p.styles.halted, "Usuário deslogado. Escaneie o QR novamente.")
	case bus.EventPairingCode:
		if !p.printQR {
			return
		}
		code := event.Payload[bus.PayloadQRCode]
		if code == "" {
			return
		}
		p.line(p.styles.hint, "Escaneie o QR code abaixo para conectar:")
		RenderQR(p.out, code)
	case bus.EventCredentialsUpdated:
		p.line(p.styles.hint, "Credenciais salvas.")
	}
}

func (p *Printer) line(style lipgloss.Style, text string) {
	fmt.Fprintln(p.out, style.Render(text))
}

// RenderQR draws code as a half-block QR code.
func RenderQR(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}

func serviceName(channel string) string {
	switch strings.ToLower(channel) {
	case "whatsapp", "":
		return "WhatsApp"
	case "telegram":
		return "Telegram"
	default:
		return channel
	}
}
