package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

const topSignals = 10

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Report imprime el resumen del ciclo en el modo configurado.
func (c *Console) Report(_ context.Context, r domain.CycleReport) error {
	if c.table {
		c.printFull(r)
		return nil
	}
	c.printCompact(r)
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(r domain.CycleReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s sig:%d pos:%d llm:$%.4f/%d",
		r.At.Format("15:04:05"), marketLabel(r.MarketOpen), len(r.Signals), len(r.Positions),
		r.Cost.TotalUSD, r.Cost.Calls)

	if len(r.Entered) > 0 {
		fmt.Fprintf(&sb, " | in: %s", strings.Join(r.Entered, ","))
	}
	if len(r.Exited) > 0 {
		fmt.Fprintf(&sb, " | out: %s", strings.Join(r.Exited, ","))
	}
	if d := denialSummary(r.Denials); d != "" {
		fmt.Fprintf(&sb, " | denied %s", d)
	}
	if r.PlanDay != "" {
		fmt.Fprintf(&sb, " | plan %s [%s]", r.PlanDay, strings.Join(r.PlanTickers, ","))
	}
	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime posiciones, señales y cuotas en tablas.
func (c *Console) printFull(r domain.CycleReport) {
	fmt.Fprintf(c.out, "\n[%s] market %s | %d signals | %d positions | cycle %s\n",
		r.At.Format("15:04:05"), marketLabel(r.MarketOpen), len(r.Signals), len(r.Positions),
		r.Duration.Round(time.Millisecond))

	if len(r.Positions) > 0 {
		c.printPositions(r)
	} else {
		fmt.Fprintln(c.out, "  no open positions")
	}
	if len(r.Signals) > 0 {
		c.printSignals(r.Signals)
	}
	c.printBudget(r)

	if len(r.Entered) > 0 || len(r.Exited) > 0 {
		fmt.Fprintf(c.out, "  entered: [%s]  exited: [%s]\n", strings.Join(r.Entered, ", "), strings.Join(r.Exited, ", "))
	}
	if r.PlanDay != "" {
		fmt.Fprintf(c.out, "  premarket plan %s: [%s]\n", r.PlanDay, strings.Join(r.PlanTickers, ", "))
	}
}

func (c *Console) printPositions(r domain.CycleReport) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Ticker", "Class", "State", "Entry", "Size$", "Gain%", "Held", "Tier", "Exit")
	for _, p := range r.Positions {
		table.Append(
			p.Ticker,
			string(p.Class()),
			string(p.State),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("$%.2f", p.SizeUSD),
			fmt.Sprintf("%+.2f", p.LastGainPct),
			p.HeldFor(r.At).Round(time.Minute).String(),
			tierLabel(p.LastTier),
			string(p.ExitReason),
		)
	}
	table.Render()
}

func (c *Console) printSignals(signals []domain.SignalScore) {
	top := append([]domain.SignalScore(nil), signals...)
	sort.Slice(top, func(i, j int) bool {
		if top[i].Strength() != top[j].Strength() {
			return top[i].Strength() > top[j].Strength()
		}
		return top[i].Ticker < top[j].Ticker
	})
	if len(top) > topSignals {
		top = top[:topSignals]
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Ticker", "Sentiment", "Conf", "Mentions", "Weight")
	for i, s := range top {
		table.Append(
			fmt.Sprintf("%d", i+1),
			s.Ticker,
			fmt.Sprintf("%+.3f", s.Sentiment),
			fmt.Sprintf("%.2f", s.Confidence),
			fmt.Sprintf("%d", s.MentionCount),
			fmt.Sprintf("%.2f", s.TotalWeight),
		)
	}
	table.Render()
}

func (c *Console) printBudget(r domain.CycleReport) {
	fmt.Fprintf(c.out, "  llm: $%.4f over %d calls (%d in / %d out tokens)\n",
		r.Cost.TotalUSD, r.Cost.Calls, r.Cost.TokensIn, r.Cost.TokensOut)
	for _, q := range r.Quotas {
		fmt.Fprintf(c.out, "  quota %-12s %d/%d used, resets %s\n",
			q.Source, q.Used, q.Limit, q.ResetAt.Format("2006-01-02 15:04 MST"))
	}
	if d := denialSummary(r.Denials); d != "" {
		fmt.Fprintf(c.out, "  research denied: %s\n", d)
	}
}

// History imprime el histórico guardado de un ticker: scores, transiciones
// de sus posiciones (por símbolo) y el gasto LLM de la ventana.
func (c *Console) History(ticker string, signals []domain.SignalScore, trails map[string][]domain.Transition, spend domain.CostTracker) {
	fmt.Fprintf(c.out, "\n%s: %d stored signals\n", ticker, len(signals))
	if len(signals) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Computed", "Sentiment", "Conf", "Mentions", "Weight")
		for _, s := range signals {
			table.Append(
				s.ComputedAt.Format("01-02 15:04"),
				fmt.Sprintf("%+.3f", s.Sentiment),
				fmt.Sprintf("%.2f", s.Confidence),
				fmt.Sprintf("%d", s.MentionCount),
				fmt.Sprintf("%.2f", s.TotalWeight),
			)
		}
		table.Render()
	}

	symbols := lo.Keys(trails)
	sort.Strings(symbols)
	for _, sym := range symbols {
		fmt.Fprintf(c.out, "  %s transitions:\n", sym)
		table := tablewriter.NewWriter(c.out)
		table.Header("At", "From", "To", "Reason", "Gain%")
		for _, tr := range trails[sym] {
			table.Append(
				tr.At.Format("01-02 15:04:05"),
				string(tr.From),
				string(tr.To),
				tr.Reason,
				fmt.Sprintf("%+.2f", tr.GainPct),
			)
		}
		table.Render()
	}

	fmt.Fprintf(c.out, "  llm: $%.4f over %d calls (%d in / %d out tokens)\n",
		spend.TotalUSD, spend.Calls, spend.TokensIn, spend.TokensOut)
}

// denialSummary formatea los rechazos ordenados por motivo: "budget_exhausted=2 quota_exhausted=1".
func denialSummary(denials map[string]int) string {
	reasons := lo.Keys(denials)
	sort.Strings(reasons)
	return strings.Join(lo.FilterMap(reasons, func(k string, _ int) (string, bool) {
		return fmt.Sprintf("%s=%d", k, denials[k]), denials[k] > 0
	}), " ")
}

func marketLabel(open bool) string {
	if open {
		return "OPEN"
	}
	return "CLOSED"
}

func tierLabel(t domain.StalenessTier) string {
	if t == domain.TierNone {
		return "-"
	}
	return string(t)
}
