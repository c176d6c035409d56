package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// cliStyles holds the terminal styles for command output.
type cliStyles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Header lipgloss.Style
	ID     lipgloss.Style
	Error  lipgloss.Style
}

var styles = cliStyles{
	Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
	Label:  lipgloss.NewStyle().Bold(true).Width(12),
	Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6e7681")),
	ID:     lipgloss.NewStyle().Foreground(lipgloss.Color("#58a6ff")),
	Error:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f56")),
}

// output writes v as indented JSON when --json is set, otherwise calls text.
func output(cmd *cobra.Command, v any, text func()) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	if !asJSON {
		text()
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", styles.Label.Render(label+":"), value)
}

// printTable renders rows under a header with columns padded to the widest
// cell.
func printTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = style.Width(widths[i]).Render(c)
		}
		return "  " + strings.Join(parts, "  ")
	}
	fmt.Fprintln(w, line(header, styles.Header))
	for _, row := range rows {
		fmt.Fprintln(w, line(row, lipgloss.NewStyle()))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
