package report

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
)

// Theme is the color palette a report is rendered with
type Theme struct {
	Name   string       `toml:"name"`
	Colors ColorsConfig `toml:"colors"`
}

// ColorsConfig contains the base color palette
type ColorsConfig struct {
	Primary string `toml:"primary"`
	Muted   string `toml:"muted"`
	Border  string `toml:"border"`
	Error   string `toml:"error"`
	Warning string `toml:"warning"`
	Success string `toml:"success"`
}

// Styles contains the compiled lipgloss styles for a theme
type Styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
	Muted  lipgloss.Style
	Border lipgloss.Style

	// Outcome styles
	Stored    lipgloss.Style
	Handled   lipgloss.Style
	Duplicate lipgloss.Style
	Ignored   lipgloss.Style
	Failed    lipgloss.Style
}

// NordTheme is the default palette
func NordTheme() *Theme {
	return &Theme{
		Name: "nord",
		Colors: ColorsConfig{
			Primary: "#88C0D0",
			Muted:   "#4C566A",
			Border:  "#434C5E",
			Error:   "#BF616A",
			Warning: "#EBCB8B",
			Success: "#A3BE8C",
		},
	}
}

// LoadTheme loads a theme from a TOML file. Colors missing from the file
// keep their NordTheme value.
func LoadTheme(path string) (*Theme, error) {
	t := NordTheme()
	if _, err := toml.DecodeFile(path, t); err != nil {
		return nil, fmt.Errorf("failed to parse theme file %s: %w", path, err)
	}
	return t, nil
}

// Compile turns a theme into lipgloss styles
func (t *Theme) Compile() *Styles {
	c := t.Colors
	s := &Styles{}

	s.Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(c.Primary))

	s.Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(c.Primary)).
		PaddingRight(2)

	s.Cell = lipgloss.NewStyle().PaddingRight(2)
	s.Muted = s.Cell.Foreground(lipgloss.Color(c.Muted))

	s.Border = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(c.Border)).
		Padding(0, 1)

	s.Stored = s.Cell.Foreground(lipgloss.Color(c.Success))
	s.Handled = s.Cell.Foreground(lipgloss.Color(c.Primary))
	s.Duplicate = s.Cell.Foreground(lipgloss.Color(c.Warning))
	s.Ignored = s.Muted
	s.Failed = s.Cell.Foreground(lipgloss.Color(c.Error))

	return s
}
