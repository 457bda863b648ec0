// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/aquaclean/pkg/errcodes"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// field is one label/value line of a report
type field struct {
	label string
	value any
}

// printReport renders fields as an aligned box under a title, or as JSON
// when --json is set.
func printReport(title string, v any, fields []field) error {
	if jsonOutput {
		return printJSON(v)
	}

	width := 0
	for _, f := range fields {
		width = max(width, len(f.label))
	}

	var s strings.Builder
	for i, f := range fields {
		if i > 0 {
			s.WriteString("\n")
		}
		label := labelStyle.Render(fmt.Sprintf("%-*s", width+1, f.label+":"))
		s.WriteString(fmt.Sprintf("%s %s", label, valueStyle.Render(fmt.Sprint(f.value))))
	}

	fmt.Println(titleStyle.Render(title))
	fmt.Println(boxStyle.Render(s.String()))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// renderRecord styles an error record by severity
func renderRecord(rec errcodes.Record) string {
	switch rec.Code.Severity {
	case errcodes.SeverityWarning, errcodes.SeverityInfo:
		return warningStyle.Render(rec.CLI())
	default:
		return errorStyle.Render(rec.CLI())
	}
}

// PrintError reports a command failure on stderr with its error code
func PrintError(err error) {
	rec := errcodes.FromError(err)
	if jsonOutput {
		fmt.Fprintln(os.Stderr, rec.JSON())
		return
	}
	fmt.Fprintln(os.Stderr, renderRecord(rec))
}
