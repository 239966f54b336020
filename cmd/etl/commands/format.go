package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/wonny/aegis-etl/internal/pipeline"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

const dateLayout = "2006-01-02"

// PrintRunHeader prints the resolved parameters before the runs start
func PrintRunHeader(p pipeline.Params, dates []time.Time) {
	mvds := make([]string, len(dates))
	for i, d := range dates {
		mvds[i] = d.Format(dateLayout)
	}

	fmt.Println()
	PrintDoubleSeparator()
	fmt.Println("  Aegis ETL")
	PrintSeparator()
	fmt.Printf("  MV Dates  : %s\n", strings.Join(mvds, ", "))
	fmt.Printf("  Period    : %s ~ %s\n", p.Start.Format(dateLayout), p.End.Format(dateLayout))
	fmt.Printf("  Top N     : %d (%s)\n", p.TopN, strings.Join(p.Markets, ","))
	fmt.Printf("  Dataset   : %s\n", p.Dataset)
	if p.ListedBefore != nil {
		fmt.Printf("  Listed    : before %s\n", p.ListedBefore.Format(dateLayout))
	}
	if len(p.ExcludedIndustries) > 0 {
		fmt.Printf("  Excluded  : %s\n", strings.Join(p.ExcludedIndustries, ", "))
	}
	if p.Factors.Enabled {
		fmt.Printf("  Factors   : %s\n", strings.Join(p.Factors.Names, ", "))
	}
	PrintSeparator()
}

// PrintRunSummary prints one run with its load table
func PrintRunSummary(s *pipeline.RunSummary) {
	if s == nil {
		return
	}

	fmt.Println()
	fmt.Printf("[%s] %s → %s\n", s.MarketValueDate, s.Target, s.Stage)
	fmt.Printf("   Run ID    : %s\n", s.RunID)
	fmt.Printf("   Universe  : %d instruments\n", s.UniverseSize)
	fmt.Printf("   Raw       : %d rows (%d duplicates)\n", s.RawRows, s.Duplicates)
	fmt.Printf("   Panel     : %d rows, %d dates, %d suspended, %d limit up, %d limit down\n",
		s.Panel.Rows, s.Panel.Dates, s.Panel.Suspended, s.Panel.LimitUp, s.Panel.LimitDown)
	fmt.Printf("   Duration  : %.2fs\n", s.FinishedAt.Sub(s.StartedAt).Seconds())

	if len(s.Loads) > 0 {
		fmt.Println()
		widths := []int{40, 8, 10, 10, 10}
		PrintTableHeader([]string{"Table", "Mode", "In", "Written", "Total"}, widths)
		for _, l := range s.Loads {
			PrintTableRow([]string{
				l.Target,
				string(l.Mode),
				fmt.Sprintf("%d", l.RowsIn),
				fmt.Sprintf("%d", l.RowsWritten),
				fmt.Sprintf("%d", l.TargetRows),
			}, widths)
		}
	}

	if len(s.Uploaded) > 0 {
		fmt.Println("\n   Uploaded:")
		PrintList(s.Uploaded)
	}
	if len(s.Skipped) > 0 {
		fmt.Println("\n   Skipped:")
		PrintList(s.Skipped)
	}
	if s.Error != "" {
		PrintError(s.Error)
	}
}

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println()
	fmt.Printf("⚠️  %s\n", message)
	fmt.Println()
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Printf("❌ %s\n", message)
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	fmt.Printf("ℹ️  %s\n", message)
}

// PrintTableHeader prints a table header
func PrintTableHeader(columns []string, widths []int) {
	PrintTableRow(columns, widths)

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	fmt.Println(strings.Repeat("─", totalWidth))
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	for i, val := range values {
		fmt.Printf("%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}

// PrintList prints a bulleted list
func PrintList(items []string) {
	for _, item := range items {
		fmt.Printf("   • %s\n", item)
	}
}
