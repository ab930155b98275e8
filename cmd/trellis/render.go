package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/hylla/trellis/internal/app"
	"github.com/hylla/trellis/internal/domain"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle    = lipgloss.NewStyle().Bold(true)
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	unknownStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	enumStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).MarginRight(1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	headCellStyle = cellStyle.Bold(true).Foreground(lipgloss.Color("12"))
)

// renderRollupTree draws a project's items as a tree annotated with their rollups.
func renderRollupTree(out app.ProjectRollups) string {
	items := sortedCopy(out.Items)
	children := map[string][]app.ItemRollupRow{}
	present := make(map[string]struct{}, len(items))
	for _, row := range items {
		present[row.Item.ID] = struct{}{}
	}
	var roots []app.ItemRollupRow
	for _, row := range items {
		if _, ok := present[row.Item.ParentID]; row.Item.ParentID != "" && ok {
			children[row.Item.ParentID] = append(children[row.Item.ParentID], row)
			continue
		}
		roots = append(roots, row)
	}

	var build func(row app.ItemRollupRow) *tree.Tree
	build = func(row app.ItemRollupRow) *tree.Tree {
		node := tree.Root(rollupLabel(row)).
			Enumerator(tree.RoundedEnumerator).
			EnumeratorStyle(enumStyle)
		for _, child := range children[row.Item.ID] {
			node.Child(build(child))
		}
		return node
	}

	root := tree.Root(headerStyle.Render("project " + out.ProjectID)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(enumStyle)
	for _, row := range roots {
		root.Child(build(row))
	}
	if len(roots) == 0 {
		root.Child(mutedStyle.Render("(no active items)"))
	}
	return root.String()
}

// rollupLabel renders one item line: title, id and aggregate figures.
func rollupLabel(row app.ItemRollupRow) string {
	r := row.Rollup
	parts := []string{
		fmt.Sprintf("est %s", formatMinutes(r.TotalEstimate)),
		fmt.Sprintf("actual %s", formatMinutes(r.TotalActual)),
	}
	if r.StartAt != nil || r.EndAt != nil {
		parts = append(parts, formatTime(r.StartAt)+" → "+formatTime(r.EndAt))
	}
	if row.SlackMinutes != nil {
		slack := fmt.Sprintf("slack %s", formatSignedMinutes(*row.SlackMinutes))
		if *row.SlackMinutes < 0 {
			slack = warnStyle.Render(slack)
		}
		parts = append(parts, slack)
	}
	if r.BlockedCount > 0 {
		parts = append(parts, warnStyle.Render(fmt.Sprintf("blocked %d", r.BlockedCount)))
	}
	if r.OverdueCount > 0 {
		parts = append(parts, warnStyle.Render(fmt.Sprintf("overdue %d", r.OverdueCount)))
	}
	status := row.Item.Status
	if status == domain.StatusDone {
		status = okStyle.Render(status)
	}
	return fmt.Sprintf("%s %s [%s] %s",
		titleStyle.Render(row.Item.Title),
		mutedStyle.Render(string(row.Item.Type)+" "+row.Item.ID),
		status,
		strings.Join(parts, mutedStyle.Render(" | ")),
	)
}

// renderDependencyTable draws dependency edges with their timing status.
func renderDependencyTable(out app.DependencyStatuses) string {
	rows := make([][]string, 0, len(out.Dependencies))
	statuses := make([]domain.DependencyStatus, 0, len(out.Dependencies))
	for _, row := range out.Dependencies {
		dep := row.Dependency
		rows = append(rows, []string{
			dep.ID,
			dep.ItemID,
			dep.DependsOnID,
			string(dep.Type),
			strconv.Itoa(dep.LagMinutes),
			string(row.Status),
		})
		statuses = append(statuses, row.Status)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "ITEM", "DEPENDS ON", "TYPE", "LAG", "STATUS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headCellStyle
			}
			if col != 5 || row < 0 || row >= len(statuses) {
				return cellStyle
			}
			switch statuses[row] {
			case domain.DependencySatisfied:
				return cellStyle.Foreground(okStyle.GetForeground())
			case domain.DependencyViolated:
				return cellStyle.Foreground(warnStyle.GetForeground())
			default:
				return cellStyle.Foreground(unknownStyle.GetForeground())
			}
		})
	return t.Render()
}

// renderOpLogTable draws recent op log rows, newest first.
func renderOpLogTable(entries []domain.OpLogEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.UserID,
			e.OpName,
			string(e.Args),
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("#", "AT", "USER", "OP", "ARGS").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headCellStyle
			}
			return cellStyle
		}).
		Render()
}

func formatMinutes(m int) string {
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	if m%60 == 0 {
		return fmt.Sprintf("%dh", m/60)
	}
	return fmt.Sprintf("%dh%02dm", m/60, m%60)
}

func formatSignedMinutes(m int) string {
	if m < 0 {
		return "-" + formatMinutes(-m)
	}
	return "+" + formatMinutes(m)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "?"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// sortedCopy keeps render input order stable regardless of caller order.
func sortedCopy(rows []app.ItemRollupRow) []app.ItemRollupRow {
	out := slices.Clone(rows)
	slices.SortFunc(out, func(a, b app.ItemRollupRow) int { return strings.Compare(a.Item.ID, b.Item.ID) })
	return out
}
