package main

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"marketsim/internal/market"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

var chartBox = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("6")).Padding(0, 1)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// setupColor turns colour off when stdout is piped.
func setupColor() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func promptFloat(label string, min float64) (float64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			printWarn("Enter a valid number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %.2f", min))
			continue
		}
		return v, nil
	}
}

func promptSymbol(label string) (string, error) {
	for {
		symbol, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if err := market.ValidateSymbol(symbol); err != nil {
			printWarn(err.Error())
			continue
		}
		return symbol, nil
	}
}

func renderStocksList(stocks []market.Stock) {
	accent.Println("\n== STOCK MARKET ==")
	if len(stocks) == 0 {
		printInfo("No stocks found.")
		return
	}
	fmt.Printf("%-7s %-24s %-12s %12s %9s %14s\n", "SYMBOL", "NAME", "SECTOR", "PRICE", "CHANGE", "VOLUME")
	for _, s := range stocks {
		fmt.Printf("%-7s %-24s %-12s %12s %9s %14s\n",
			s.Symbol,
			truncate(s.CompanyName, 24),
			truncate(s.Sector, 12),
			formatPrice(s.CurrentPrice),
			colorizePercent(s.PriceChangePct),
			comma(s.VolumeToday),
		)
	}
	fmt.Println()
}

func renderStockDetail(s market.Stock, series market.HistorySeries) {
	accent.Printf("\n== %s (%s) ==\n", s.Symbol, s.CompanyName)
	fmt.Printf("Sector:        %s\n", s.Sector)
	fmt.Printf("Price:         %s\n", formatPrice(s.CurrentPrice))
	fmt.Printf("Daily open:    %s\n", formatPrice(s.DailyOpen))
	fmt.Printf("Change:        %s\n", colorizePercent(s.PriceChangePct))
	fmt.Printf("Volume today:  %s\n", comma(s.VolumeToday))
	if s.MarketCap > 0 {
		fmt.Printf("Market cap:    %s\n", formatPrice(s.MarketCap))
	}
	if s.AvailableShares != nil {
		fmt.Printf("Float:         %s of %s\n", comma(*s.AvailableShares), comma(s.TotalShares))
	}
	fmt.Printf("Volatility:    %.2fx\n", s.Volatility)

	if len(series.Points) == 0 {
		fmt.Println()
		return
	}
	prices := make([]float64, len(series.Points))
	for i, p := range series.Points {
		prices[i] = p.Price
	}
	first, last := series.Points[0], series.Points[len(series.Points)-1]
	title := fmt.Sprintf("%s  %s", series.Timeframe, periodChange(first.Price, last.Price))
	if series.Synthetic {
		title += "  (simulated)"
	}
	chart := fmt.Sprintf("%s\n%s\n%s .. %s", title, sparkline(prices), first.Label, last.Label)
	fmt.Println()
	fmt.Println(chartBox.Render(chart))
	fmt.Println()
}

func renderComparison(cmp market.Comparison) {
	accent.Printf("\n== COMPARE %s ==\n", cmp.Timeframe)
	if len(cmp.Stocks) == 0 {
		printInfo("Nothing to compare.")
		return
	}
	header := fmt.Sprintf("%-10s", "DATE")
	for _, s := range cmp.Stocks {
		header += fmt.Sprintf(" %12s", s.Symbol)
	}
	fmt.Println(header)
	for _, row := range cmp.Rows {
		line := fmt.Sprintf("%-10s", truncate(row.Label, 10))
		for _, s := range cmp.Stocks {
			price, ok := row.Prices[s.ID]
			if !ok {
				line += fmt.Sprintf(" %12s", "-")
				continue
			}
			line += fmt.Sprintf(" %12s", formatPrice(price))
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func renderTradeResult(res market.TradeResult) {
	accent.Printf("\n== %s %s ==\n", strings.ToUpper(string(res.Side)), res.Stock.Symbol)
	fmt.Printf("Shares:  %s\n", comma(res.Quantity))
	fmt.Printf("Before:  %s\n", formatPrice(res.PreviousPrice))
	fmt.Printf("After:   %s\n", formatPrice(res.Stock.CurrentPrice))
	fmt.Printf("Impact:  %s\n", decimal.NewFromFloat(res.PriceImpact*100).StringFixed(4)+"%")
	fmt.Printf("Today:   %s\n", colorizePercent(res.Stock.PriceChangePct))
	fmt.Println()
}

func periodChange(from, to float64) string {
	return colorizePercent(market.ChangePct(to, from))
}

func sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

func colorizePercent(v float64) string {
	text := decimal.NewFromFloat(v).StringFixed(2) + "%"
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

// formatPrice renders v with two decimals and thousands separators.
func formatPrice(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	whole := d.Truncate(0)
	cents := d.Sub(whole).Shift(2).IntPart()
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole.IntPart()), cents)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
