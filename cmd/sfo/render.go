package main

import (
	"fmt"
	"io"
	"strings"

	"sfo-go/internal/app"
	"sfo-go/internal/classify"
	"sfo-go/internal/dedup"
	"sfo-go/internal/history"
	"sfo-go/internal/sfo"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(14)
	folderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

var tierNames = map[int]string{
	sfo.TierRule:     "rule",
	sfo.TierMetadata: "metadata",
	sfo.TierContent:  "content",
	sfo.TierDeep:     "deep",
	sfo.TierFallback: "fallback",
}

func tierName(tier int) string {
	if name, ok := tierNames[tier]; ok {
		return name
	}
	return fmt.Sprintf("tier %d", tier)
}

func printClassification(w io.Writer, r *sfo.ClassificationResult, dest string) {
	fmt.Fprintln(w, labelStyle.Render("Folder")+folderStyle.Render(r.SuggestedFolder()))
	fmt.Fprintln(w, labelStyle.Render("Confidence")+fmt.Sprintf("%.0f%%", r.Confidence*100))
	fmt.Fprintln(w, labelStyle.Render("Tier")+tierName(r.Tier))
	if r.IsSensitive {
		fmt.Fprintln(w, labelStyle.Render("Sensitive")+warnStyle.Render("yes"))
	}
	fmt.Fprintln(w, labelStyle.Render("Destination")+dest)
}

func printPlan(w io.Writer, plan []app.PlannedMove) {
	for _, p := range plan {
		line := fmt.Sprintf("%s → %s", p.Path, p.Destination)
		if p.Result.IsSensitive {
			line += " " + warnStyle.Render("[sensitive]")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d file(s), nothing moved (dry run)", len(plan))))
}

// historyRow formats one ledger entry as a single line.
func historyRow(e *sfo.HistoryEntry) string {
	marker := " "
	if e.CanUndo {
		marker = "↺"
	}
	folder := e.Category
	if e.Subcategory != "" {
		folder += "/" + e.Subcategory
	}
	target := e.DestPath
	if e.Operation == sfo.OperationVault {
		target = "vault:" + e.DestPath
	}
	return fmt.Sprintf("#%-5d %s %s  %-8s %s  %s → %s",
		e.ID,
		marker,
		e.Timestamp.Local().Format("2006-01-02 15:04:05"),
		humanize.Bytes(uint64(e.FileSize)),
		folderStyle.Render(folder),
		e.SourcePath,
		target,
	)
}

func printHistory(w io.Writer, entries []*sfo.HistoryEntry) {
	for _, e := range entries {
		fmt.Fprintln(w, historyRow(e))
	}
}

func printHistoryStats(w io.Writer, s history.Stats) {
	fmt.Fprintln(w, headerStyle.Render("History"))
	fmt.Fprintln(w, labelStyle.Render("Entries")+humanize.Comma(int64(s.Total)))
	fmt.Fprintln(w, labelStyle.Render("Undoable")+humanize.Comma(int64(s.Undoable)))
	fmt.Fprintln(w, labelStyle.Render("Vaulted")+humanize.Comma(int64(s.Vaulted)))
	fmt.Fprintln(w, labelStyle.Render("Data moved")+humanize.Bytes(uint64(s.TotalBytes)))
	if len(s.ByCategory) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("By category"))
	for _, c := range s.ByCategory {
		fmt.Fprintln(w, labelStyle.Render(c.Category)+humanize.Comma(int64(c.Count)))
	}
}

func printStats(w io.Writer, r app.StatsReport) {
	printHistoryStats(w, r.History)
	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Duplicate index"))
	if !r.IndexEnabled {
		fmt.Fprintln(w, dimStyle.Render("disabled"))
		return
	}
	fmt.Fprintln(w, labelStyle.Render("Files")+humanize.Comma(int64(r.Index.Files)))
	fmt.Fprintln(w, labelStyle.Render("Sizes")+humanize.Comma(int64(r.Index.UniqueSizes)))
	fmt.Fprintln(w, labelStyle.Render("Partial")+humanize.Comma(int64(r.Index.PartialHashes)))
	fmt.Fprintln(w, labelStyle.Render("Full")+humanize.Comma(int64(r.Index.FullHashes)))
	if r.IndexSchema != "" {
		fmt.Fprintln(w, labelStyle.Render("Schema")+r.IndexSchema)
	}
}

func printDuplicates(w io.Writer, groups []dedup.DuplicateGroup) {
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s\n", folderStyle.Render(g.Original), dimStyle.Render("("+humanize.Bytes(uint64(g.Size))+")"))
		for _, d := range g.Duplicates {
			fmt.Fprintf(w, "  = %s\n", d)
		}
	}
}

func printRules(w io.Writer, rules []classify.Rule) {
	for _, r := range rules {
		folder := r.Category
		if r.Subcategory != "" {
			folder += "/" + r.Subcategory
		}
		var flags []string
		if r.Sensitive {
			flags = append(flags, warnStyle.Render("sensitive"))
		}
		if r.Disabled {
			flags = append(flags, dimStyle.Render("disabled"))
		}
		fmt.Fprintf(w, "#%-3d %3d  %-24s %-11s %-20q → %s %s\n",
			r.ID, r.Priority, r.Name, r.MatchType, r.Pattern, folderStyle.Render(folder), strings.Join(flags, " "))
	}
}
