// SPDX-License-Identifier: MIT
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by Write.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatJSON  = "json"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Write renders s to w in the given format.
func Write(w io.Writer, s Summary, format string) error {
	switch format {
	case "", FormatTable:
		_, err := fmt.Fprintln(w, Table(s))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	default:
		return fmt.Errorf("unknown output format %q (want table, yaml or json)", format)
	}
}

// Table lays s out as a two column table.
func Table(s Summary) string {
	p := s.Pitch
	rows := [][]string{
		{"File", s.File},
		{"Duration", fmt.Sprintf("%.2f s", s.Duration)},
		{"Frames", fmt.Sprintf("%d (%d missed)", s.Frames, s.Missed)},
		{"Voiced", fmt.Sprintf("%.0f%%", 100*s.VoicedRatio)},
		{"Pitch mean", fmt.Sprintf("%.1f Hz ± %.1f", p.Mean, p.StdDev)},
		{"Pitch median", fmt.Sprintf("%.1f Hz", p.Median)},
		{"Pitch 10-90%", fmt.Sprintf("%.1f - %.1f Hz (%.1f st)", p.P10, p.P90, s.RangeSemi)},
		{"Formants", fmt.Sprintf("F1 %.0f  F2 %.0f  F3 %.0f Hz", s.Formants[0], s.Formants[1], s.Formants[2])},
		{"Syllable rate", fmt.Sprintf("%.2f /s (articulation %.2f /s)", s.SyllableRate, s.ArticulationRate)},
		{"Pauses", fmt.Sprintf("%d (%.0f%% of time)", s.Pauses, 100*s.PauseRatio)},
		{"Monotone", fmt.Sprintf("%.2f", s.Monotone)},
		{"Clarity", fmt.Sprintf("%.2f", s.Clarity)},
		{"Intelligibility", fmt.Sprintf("%.2f", s.Intelligibility)},
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Measure", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}
