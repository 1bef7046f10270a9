package formatters

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/staarb/staarb/internal/portfolio"
	"github.com/staarb/staarb/internal/storage"
)

// Colors for different values
var (
	ColorGreen  = text.FgGreen
	ColorRed    = text.FgRed
	ColorYellow = text.FgYellow
	ColorGray   = text.FgHiBlack
)

// FormatAmount formats a quote-asset amount with sign-based color
func FormatAmount(amount decimal.Decimal) string {
	amountStr := fmt.Sprintf("%.2f", amount.Abs().InexactFloat64())

	if amount.IsNegative() {
		return ColorRed.Sprint("-" + amountStr)
	}
	return ColorGreen.Sprint(amountStr)
}

// FormatPercent formats a fraction as a signed percentage
func FormatPercent(fraction float64) string {
	sign := ""
	if fraction > 0 {
		sign = "+"
	}

	percentStr := fmt.Sprintf("%s%.2f%%", sign, fraction*100)

	if fraction > 0 {
		return ColorGreen.Sprint(percentStr)
	} else if fraction < 0 {
		return ColorRed.Sprint(percentStr)
	}
	return percentStr
}

// FormatSummaryTable renders the realized results of a trading run
func FormatSummaryTable(summary portfolio.Summary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	t.AppendRow(table.Row{"Total P&L", FormatAmount(summary.TotalPnL)})
	t.AppendRow(table.Row{"Trades", summary.Trades})
	t.AppendRow(table.Row{"Wins", ColorGreen.Sprint(summary.Wins)})
	t.AppendRow(table.Row{"Losses", ColorRed.Sprint(summary.Losses)})
	t.AppendRow(table.Row{"Win Rate", fmt.Sprintf("%.1f%%", summary.WinRate*100)})

	return t.Render()
}

// FormatPositionsTable renders closed positions grouped by symbol
func FormatPositionsTable(closed map[string][]*portfolio.Position) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Symbol", "Size", "Entry", "Exit", "P&L"})

	totalPL := decimal.Zero
	rows := 0
	for symbol, history := range closed {
		for _, pos := range history {
			snapshot := pos.Snapshot()
			t.AppendRow(table.Row{
				symbol,
				snapshot.Size.String(),
				fmt.Sprintf("%.4f", snapshot.EntryPrice.InexactFloat64()),
				fmt.Sprintf("%.4f", snapshot.ExitPrice.InexactFloat64()),
				FormatAmount(snapshot.PnL),
			})
			totalPL = totalPL.Add(snapshot.PnL)
			rows++
		}
	}

	if rows == 0 {
		t.AppendRow(table.Row{"No closed positions", "", "", "", ""})
	} else {
		t.AppendSeparator()
		t.AppendRow(table.Row{"TOTAL", "", "", "", FormatAmount(totalPL)})
	}

	return t.Render()
}

// FormatSessionsTable renders persisted sessions newest first
func FormatSessionsTable(sessions []storage.SessionRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Session", "Type", "Start", "End"})
	for _, s := range sessions {
		t.AppendRow(table.Row{
			s.ID,
			s.Type,
			s.StartTime.Format("2006-01-02"),
			s.EndTime.Format("2006-01-02"),
		})
	}
	if len(sessions) == 0 {
		t.AppendRow(table.Row{"No sessions", "", "", ""})
	}

	return t.Render()
}

// FormatSessionPositionsTable renders one session's persisted positions
func FormatSessionPositionsTable(positions []storage.PositionRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Symbol", "Size", "Entry", "Exit", "P&L", "Status"})

	totalPL := decimal.Zero
	for _, p := range positions {
		status := ColorYellow.Sprint("OPEN")
		if p.IsClosed {
			status = ColorGray.Sprint("CLOSED")
			totalPL = totalPL.Add(p.PnL)
		}
		t.AppendRow(table.Row{
			p.Symbol,
			p.Size.String(),
			fmt.Sprintf("%.4f", p.EntryPrice.InexactFloat64()),
			fmt.Sprintf("%.4f", p.ExitPrice.InexactFloat64()),
			FormatAmount(p.PnL),
			status,
		})
	}

	if len(positions) == 0 {
		t.AppendRow(table.Row{"No positions", "", "", "", "", ""})
	} else {
		t.AppendSeparator()
		t.AppendRow(table.Row{"TOTAL", "", "", "", FormatAmount(totalPL), ""})
	}

	return t.Render()
}

// FormatTimestamp formats a timestamp for display
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
