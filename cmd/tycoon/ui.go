package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"tycoon/internal/game"
	"tycoon/internal/market"
	"tycoon/internal/num"
	"tycoon/internal/save"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptConfirm(label string) (bool, error) {
	fmt.Printf("%s [y/N]: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes":
		return true, nil
	}
	printInfo("Cancelled.")
	return false, nil
}

func renderClock(s game.ClockStatus) {
	state := success.Sprint(s.State)
	if s.State != "running" {
		state = warn.Sprint(s.State)
	}
	if s.Paused {
		state += warn.Sprint(" (paused)")
	}
	fmt.Printf("Tick:     %d\n", s.Tick)
	fmt.Printf("State:    %s\n", state)
	fmt.Printf("Cadence:  %s\n", s.TickEvery)
	if s.Failures > 0 {
		fmt.Printf("Failures: %s\n", danger.Sprint(s.Failures))
	}
}

func renderAssets(assets []market.AssetView) {
	accent.Println("\n== MARKET ==")
	if len(assets) == 0 {
		printInfo("No assets listed.")
		return
	}
	fmt.Printf("%-8s %-20s %-7s %14s %9s %14s %14s %-7s\n", "ID", "NAME", "KIND", "PRICE", "CHANGE", "ATH", "ATL", "REGIME")
	for _, a := range assets {
		fmt.Printf("%-8s %-20s %-7s %14s %9s %14s %14s %-7s\n",
			a.ID,
			truncate(a.Name, 20),
			a.Kind,
			formatDecimal(a.Price),
			colorizePercent(percentChange(a.PreviousPrice, a.Price)),
			formatDecimal(a.ATH),
			formatDecimal(a.ATL),
			colorizeRegime(a.Regime),
		)
	}
	fmt.Println()
}

func renderAssetDetail(a market.AssetView) {
	accent.Printf("\n== %s (%s) ==\n", a.ID, a.Name)
	fmt.Printf("Kind:           %s\n", a.Kind)
	fmt.Printf("Price:          %s\n", formatDecimal(a.Price))
	fmt.Printf("Previous:       %s\n", formatDecimal(a.PreviousPrice))
	fmt.Printf("All-time high:  %s\n", formatDecimal(a.ATH))
	fmt.Printf("All-time low:   %s\n", formatDecimal(a.ATL))
	fmt.Printf("Regime:         %s since tick %d\n", colorizeRegime(a.Regime), a.RegimeSince)
	if a.Dividend != nil {
		fmt.Printf("Dividend:       %s every %d ticks\n", a.Dividend.Yield.String(), a.Dividend.EveryTicks)
	}

	if len(a.History) > 1 {
		oldest := a.History[0].Price
		fmt.Printf("Trend (window): %s\n", colorizePercent(percentChange(oldest, a.Price)))
		fmt.Println()
		accent.Println("Recent Ticks")
		fmt.Printf("%-10s %14s\n", "TICK", "PRICE")
		start := len(a.History) - 8
		if start < 0 {
			start = 0
		}
		for i := len(a.History) - 1; i >= start; i-- {
			p := a.History[i]
			fmt.Printf("%-10d %14s\n", p.Tick, formatDecimal(p.Price))
		}
	}
	fmt.Println()
}

func renderTrade(t market.TradeResult) {
	verb := "Bought"
	if t.Side == market.SideSell {
		verb = "Sold"
	}
	printSuccess(fmt.Sprintf("%s %s %s @ %s at tick %d", verb, t.Amount.String(), t.AssetID, formatDecimal(t.Price), t.Tick))
	fmt.Printf("Notional: %s\n", formatDecimal(t.Notional))
	if !t.Fee.IsZero() {
		fmt.Printf("Fee:      %s\n", formatDecimal(t.Fee))
	}
	if t.Side == market.SideSell {
		fmt.Printf("Realized: %s\n", colorizeDecimal(t.Realized))
	}
	fmt.Printf("Cash:     %s\n", formatDecimal(t.Cash))
}

func renderPortfolio(p market.PortfolioView) {
	accent.Println("\n== PORTFOLIO ==")
	fmt.Printf("Cash:        %s\n", formatDecimal(p.Cash))
	fmt.Printf("Net Worth:   %s\n", formatDecimal(p.NetWorth))
	fmt.Printf("Realized:    %s\n", colorizeDecimal(p.Realized))
	fmt.Printf("Dividends:   %s\n", formatDecimal(p.Dividends))
	if !p.Fees.IsZero() {
		fmt.Printf("Fees:        %s\n", formatDecimal(p.Fees))
	}

	fmt.Println()
	accent.Println("Positions")
	if len(p.Positions) == 0 {
		printInfo("No open positions yet.")
		fmt.Println()
		return
	}
	fmt.Printf("%-8s %14s %14s %14s %9s %16s %16s\n", "ID", "QTY", "AVG", "NOW", "DELTA%", "VALUE", "P/L")
	for _, pos := range p.Positions {
		fmt.Printf("%-8s %14s %14s %14s %9s %16s %16s\n",
			pos.AssetID,
			pos.Quantity.String(),
			formatDecimal(pos.AvgPrice),
			formatDecimal(pos.Price),
			colorizePercent(percentChange(pos.AvgPrice, pos.Price)),
			formatDecimal(pos.Value),
			colorizeDecimal(pos.Unrealized),
		)
	}
	fmt.Println()
}

func renderMultipliers(views []game.MultiplierView) {
	accent.Println("\n== MULTIPLIERS ==")
	fmt.Printf("%-24s %-15s %12s\n", "CATEGORY", "RULE", "VALUE")
	for _, v := range views {
		fmt.Printf("%-24s %-15s %12s\n", v.Category, v.Rule, colorizeFactor(v.Value))
	}
	fmt.Println()
}

func renderBreakdown(v game.MultiplierView) {
	accent.Printf("\n== %s ==\n", v.Category)
	fmt.Printf("Effective: %s (%s)\n", colorizeFactor(v.Value), v.Rule)
	if len(v.Breakdown) == 0 {
		printInfo("No active contributions.")
		fmt.Println()
		return
	}
	fmt.Printf("%-38s %-22s %-12s %-15s %10s\n", "ID", "SOURCE", "KIND", "MODE", "FACTOR")
	for _, f := range v.Breakdown {
		fmt.Printf("%-38s %-22s %-12s %-15s %10s\n",
			truncate(f.ID, 38),
			truncate(f.Source, 22),
			f.Kind,
			f.Mode,
			colorizeFactor(f.Factor),
		)
	}
	fmt.Println()
}

func renderPrestige(r game.PrestigeResult) {
	printSuccess(fmt.Sprintf("Prestige #%d complete.", r.Resets))
	fmt.Printf("Earned:            %s\n", r.Earned.String())
	fmt.Printf("Total points:      %s\n", r.Points.String())
	fmt.Printf("Bonuses cleared:   %d\n", r.Cleared)
	fmt.Printf("All income:        %s\n", colorizeFactor(r.AllIncomeMult))
}

func renderSaves(recs []save.Record) {
	accent.Println("\n== SAVES ==")
	if len(recs) == 0 {
		printInfo("No saves yet.")
		return
	}
	fmt.Printf("%-24s %12s %8s %-20s\n", "SLOT", "TICK", "VERSION", "UPDATED")
	for _, r := range recs {
		fmt.Printf("%-24s %12d %8d %-20s\n", truncate(r.Slot, 24), r.Tick, r.Version, r.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Println()
}

func percentChange(from, to num.Decimal) float64 {
	if from.IsZero() {
		return 0
	}
	return (to.Float64()/from.Float64() - 1) * 100
}

func colorizeDecimal(v num.Decimal) string {
	text := formatDecimal(v)
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeFactor(v num.Decimal) string {
	text := "x" + v.Round(4).String()
	switch v.Cmp(num.One) {
	case 1:
		return success.Sprint(text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeRegime(r market.Regime) string {
	switch r {
	case market.RegimeBull, market.RegimeBubble:
		return success.Sprint(r)
	case market.RegimeBear, market.RegimeCrash:
		return danger.Sprint(r)
	default:
		return neutral.Sprint(r)
	}
}

// formatDecimal renders two decimals with thousands separators; prices under
// one keep four so penny assets stay readable.
func formatDecimal(v num.Decimal) string {
	places := int32(2)
	if v.Abs().Lt(num.One) && !v.IsZero() {
		places = 4
	}
	text := v.StringFixed(places)
	sign := ""
	if strings.HasPrefix(text, "-") {
		sign = "-"
		text = text[1:]
	}
	whole, frac, _ := strings.Cut(text, ".")
	return sign + comma(whole) + "." + frac
}

func comma(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
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
