package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorGreen  = lipgloss.Color("#22C55E")
	colorIndigo = lipgloss.Color("#6366F1")
	colorRed    = lipgloss.Color("#EF4444")
	colorGray   = lipgloss.Color("#9CA3AF")
	colorYellow = lipgloss.Color("#EAB308")
	colorCyan   = lipgloss.Color("#00FFFF")
	colorDim    = lipgloss.Color("#444444")
)

// emotionColors matches the report page palette. Unknown labels use gray.
var emotionColors = map[string]lipgloss.Color{
	"happy":      colorGreen,
	"sad":        colorIndigo,
	"angry":      colorRed,
	"neutral":    colorGray,
	"frustrated": colorYellow,
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	recordingDotStyle = lipgloss.NewStyle().
				Foreground(colorRed).
				Bold(true)

	idleDotStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	dividerStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	levelLowStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	levelHighStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	levelEmptyStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	footerDescStyle = lipgloss.NewStyle().
			Foreground(colorGray)
)

func emotionStyle(emotion string) lipgloss.Style {
	color, ok := emotionColors[emotion]
	if !ok {
		color = colorGray
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true)
}
