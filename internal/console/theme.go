package console

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sipico/comms-gateway/internal/message"
)

// Theme defines the color palette of the console. All colors use lipgloss
// ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color

	// Flagged rows and the flagged banner of the detail page.
	Flagged lipgloss.Color

	// Priority colors, indexed by severity: urgent, high, normal, low.
	PriorityColors [4]lipgloss.Color

	Success lipgloss.Color
	Failure lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText:         lipgloss.Color("252"),
	FaintText:          lipgloss.Color("243"),
	SelectedBackground: lipgloss.Color("237"),
	SelectedForeground: lipgloss.Color("231"),
	HeaderForeground:   lipgloss.Color("75"),
	BorderColor:        lipgloss.Color("240"),
	Flagged:            lipgloss.Color("214"),
	PriorityColors: [4]lipgloss.Color{
		lipgloss.Color("196"), // urgent
		lipgloss.Color("208"), // high
		lipgloss.Color("252"), // normal
		lipgloss.Color("243"), // low
	},
	Success: lipgloss.Color("114"),
	Failure: lipgloss.Color("203"),
}

// PriorityColor returns the color of a priority. Unknown priorities use
// NormalText.
func (theme Theme) PriorityColor(p message.Priority) lipgloss.Color {
	rank := p.Rank()
	if rank < 0 || rank >= len(theme.PriorityColors) {
		return theme.NormalText
	}
	return theme.PriorityColors[rank]
}
