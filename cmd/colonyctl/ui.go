package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"colonycore/internal/colony"
	"colonycore/internal/events"
	"colonycore/internal/game"
	"colonycore/internal/market"

	"github.com/fatih/color"
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

func renderColony(raw map[string]any) error {
	v, err := decodeInto[game.ColonyView](raw["colony"])
	if err != nil {
		return err
	}
	renderStartedEvents(raw)
	p := v.Player
	accent.Printf("Colony %s\n", p.ID)
	fmt.Printf("Balance  %s LUNAR   Level %d (%d/%d xp)   Streak %d\n",
		formatMicros(p.BalanceMicros), p.Level, p.XP, v.NextLevelXP, p.DailyStreak)
	fmt.Printf("Output   %.2f LUNAR/tick   Pending %s LUNAR\n", v.OutputPerTick, colorizeMicros(v.PendingMicros))
	if v.DailyAvailable {
		success.Println("Daily reward available.")
	}

	if len(v.Modules) == 0 {
		printInfo("No modules yet. Try `colonyctl build SOLAR_PANEL 0 0`.")
	} else {
		fmt.Println()
		accent.Printf("%-36s %-16s %-9s %3s %6s %4s %8s %10s\n", "ID", "TYPE", "TIER", "LVL", "EFF", "ON", "OUT", "PENDING")
		for _, m := range v.Modules {
			state := success.Sprint("on")
			if !m.IsActive {
				state = danger.Sprint("off")
			}
			fmt.Printf("%-36s %-16s %-9s %3d %5.1f%% %4s %8.2f %10s\n",
				m.ID, m.Type, m.Tier, m.Level, m.Efficiency, state, m.Output.Output, formatMicros(m.PendingMicros))
		}
	}

	if len(v.Crew) > 0 {
		fmt.Println()
		accent.Printf("%-36s %-22s %-16s %6s %6s %s\n", "CREW", "NAME", "SPECIALTY", "OUT+", "EFF+", "MODULE")
		for _, c := range v.Crew {
			fmt.Printf("%-36s %-22s %-16s %6.2f %6.2f %s\n",
				c.ID, truncate(c.Name, 22), c.Specialty, c.OutputBonus, c.EfficiencyBonus, c.AssignedModuleID)
		}
	}

	if len(v.Holdings) > 0 {
		fmt.Println()
		keys := make([]string, 0, len(v.Holdings))
		for k := range v.Holdings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, v.Holdings[k]))
		}
		fmt.Println("Holdings " + strings.Join(parts, " "))
	}
	renderModifierSet(v.Modifiers)
	return nil
}

func renderMarket(raw map[string]any) error {
	prices, err := decodeInto[[]colony.ResourcePrice](raw["prices"])
	if err != nil {
		return err
	}
	renderStartedEvents(raw)
	accent.Printf("%-10s %12s %12s %10s\n", "RESOURCE", "PRICE", "BASE", "CHANGE")
	for _, p := range prices {
		change := 0.0
		if p.BasePrice > 0 {
			change = (p.CurrentPrice - p.BasePrice) / p.BasePrice * 100
		}
		fmt.Printf("%-10s %12.4f %12.4f %10s\n", p.Resource, p.CurrentPrice, p.BasePrice, colorizePercent(change))
	}
	return nil
}

func renderDepth(raw map[string]any) error {
	b, err := decodeInto[market.Book](raw["depth"])
	if err != nil {
		return err
	}
	accent.Printf("%s  mid %.4f  spread %.2f%%\n", b.Resource, b.Mid, b.SpreadPct)
	for i := len(b.Asks) - 1; i >= 0; i-- {
		l := b.Asks[i]
		fmt.Printf("  %s %12.4f x %-8d\n", danger.Sprint("ask"), l.Price, l.Quantity)
	}
	for _, l := range b.Bids {
		fmt.Printf("  %s %12.4f x %-8d\n", success.Sprint("bid"), l.Price, l.Quantity)
	}
	return nil
}

func renderModifiers(raw map[string]any) error {
	mods, err := decodeInto[events.ModifierSet](raw["modifiers"])
	if err != nil {
		return err
	}
	if mods.ActiveCount == 0 {
		printInfo("No active events.")
		return nil
	}
	renderModifierSet(mods)
	return nil
}

func renderModifierSet(mods events.ModifierSet) {
	if mods.ActiveCount == 0 {
		return
	}
	fmt.Println()
	accent.Printf("Active events: %s\n", strings.Join(mods.ActiveEventNames, ", "))
	keys := make([]string, 0, len(mods.Values))
	for k := range mods.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-24s x%.2f\n", k, mods.Values[k])
	}
}

func renderLedger(raw map[string]any) error {
	entries, err := decodeInto[[]colony.LedgerEntry](raw["entries"])
	if err != nil {
		return err
	}
	accent.Printf("%-20s %-12s %-14s %14s\n", "TIME", "ACTION", "ACCOUNT", "DELTA")
	for _, e := range entries {
		fmt.Printf("%-20s %-12s %-14s %14s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Action, e.Account, colorizeMicros(e.DeltaMicros))
	}
	return nil
}

func renderModuleResult(verb string) func(map[string]any) error {
	return func(raw map[string]any) error {
		res, err := decodeInto[game.ModuleResult](raw["result"])
		if err != nil {
			return err
		}
		m := res.Module
		printSuccess(fmt.Sprintf("%s %s %s (level %d) at (%d,%d).", verb, m.Tier, m.Type, m.Level, m.Coordinates.X, m.Coordinates.Y))
		fmt.Printf("Cost %s LUNAR\n", colorizeMicros(-res.CostMicros))
		renderProgress(res.Progress)
		return nil
	}
}

func renderCollect(raw map[string]any) error {
	res, err := decodeInto[game.CollectResult](raw["result"])
	if err != nil {
		return err
	}
	if res.EarnedMicros == 0 {
		printInfo("Nothing to collect yet.")
		return nil
	}
	printSuccess(fmt.Sprintf("Collected %s LUNAR.", formatMicros(res.EarnedMicros)))
	renderProgress(res.Progress)
	return nil
}

func renderTrade(raw map[string]any) error {
	res, err := decodeInto[game.TradeResult](raw["result"])
	if err != nil {
		return err
	}
	t := res.Trade
	printSuccess(fmt.Sprintf("%s %d %s @ %.4f (total %s LUNAR, slippage %.2f%%).",
		strings.ToUpper(t.Side), t.FilledQty, t.Resource, t.AvgPrice, formatMicros(t.TotalMicros), t.SlippagePct))
	if res.Partial {
		printWarn(fmt.Sprintf("Partial fill: %d of %d.", t.FilledQty, t.RequestedQty))
	}
	fmt.Printf("Holding %d %s\n", res.Holding, t.Resource)
	renderProgress(res.Progress)
	return nil
}

func renderCrew(raw map[string]any) error {
	res, err := decodeInto[game.CrewResult](raw["result"])
	if err != nil {
		return err
	}
	c := res.Crew
	where := "unassigned"
	if c.AssignedModuleID != "" {
		where = "on " + c.AssignedModuleID
	}
	printSuccess(fmt.Sprintf("%s (%s) %s.", c.Name, c.ID, where))
	if res.CostMicros > 0 {
		fmt.Printf("Cost %s LUNAR\n", colorizeMicros(-res.CostMicros))
	}
	renderProgress(res.Progress)
	return nil
}

func renderDaily(raw map[string]any) error {
	res, err := decodeInto[game.DailyResult](raw["result"])
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Claimed %s LUNAR. Streak %d.", formatMicros(res.RewardMicros), res.Streak))
	renderProgress(res.Progress)
	return nil
}

func renderProgress(p game.Progress) {
	fmt.Printf("Balance %s LUNAR   Level %d   +%d xp\n", formatMicros(p.BalanceMicros), p.Level, p.XPGained)
	if p.LeveledUp {
		success.Printf("Level up! Now level %d.\n", p.Level)
	}
	for _, a := range p.Achievements {
		accent.Printf("Achievement unlocked: %s\n", a)
	}
}

func renderStartedEvents(raw map[string]any) {
	names, _ := decodeInto[[]string](raw["events_started"])
	for _, n := range names {
		warn.Printf("Event started: %s\n", n)
	}
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeMicros(v int64) string {
	text := signedMicros(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
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

func formatMicros(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / colony.MicrosPerLunar
	frac := (v % colony.MicrosPerLunar) / 10_000
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole), frac)
}

func signedMicros(v int64) string {
	if v > 0 {
		return "+" + formatMicros(v)
	}
	return formatMicros(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
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
