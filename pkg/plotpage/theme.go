package plotpage

// Theme is a chart color theme.
type Theme string

// Themes.
const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ThemeConfig holds chart colors of a theme.
type ThemeConfig struct {
	Background string
	Grid       string
	Axis       string
	Text       string
	TextMuted  string
	Bad        string
	// Palette colors successive metric lines.
	Palette []string
}

// GetThemeConfig returns the configuration for theme; light for unknown
// names.
func GetThemeConfig(theme Theme) ThemeConfig {
	if theme == ThemeDark {
		return darkTheme
	}

	return lightTheme
}

// Color returns the palette color of the i-th line.
func (c ThemeConfig) Color(i int) string {
	if len(c.Palette) == 0 {
		return ""
	}

	return c.Palette[i%len(c.Palette)]
}

var lightTheme = ThemeConfig{
	Background: "#ffffff",
	Grid:       "#e7e5e4", // stone-200.
	Axis:       "#a8a29e", // stone-400.
	Text:       "#44403c", // stone-700.
	TextMuted:  "#78716c", // stone-500.
	Bad:        "#dc2626", // red-600.
	Palette: []string{
		"#a16207", // amber-700.
		"#0369a1", // sky-700.
		"#4d7c0f", // lime-700.
		"#7c3aed", // violet-600.
		"#be185d", // pink-700.
		"#0891b2", // cyan-600.
	},
}

var darkTheme = ThemeConfig{
	Background: "#1c1917", // stone-900.
	Grid:       "#44403c", // stone-700.
	Axis:       "#57534e", // stone-600.
	Text:       "#d6d3d1", // stone-300.
	TextMuted:  "#a8a29e", // stone-400.
	Bad:        "#ef4444", // red-500.
	Palette: []string{
		"#fbbf24", // amber-400.
		"#38bdf8", // sky-400.
		"#a3e635", // lime-400.
		"#a78bfa", // violet-400.
		"#f472b6", // pink-400.
		"#22d3ee", // cyan-400.
	},
}
