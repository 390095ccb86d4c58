package main

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/blueberrycongee/llmgov"
)

var rule = strings.Repeat("=", 60)

// printStats writes the human-readable statistics report. Backends are listed
// in selection order.
func printStats(w io.Writer, stats llmgov.Stats) {
	p := message.NewPrinter(language.English)

	fmt.Fprintf(w, "\n%s\nLLM MONITORING STATISTICS\n%s\n", rule, rule)
	fmt.Fprintf(w, "\nTotal Requests: %d\n", stats.TotalRequests)
	fmt.Fprintf(w, "Total Cost: $%.4f\n", stats.TotalCost)

	fmt.Fprintln(w, "\nProvider Statistics:")
	for _, id := range stats.Backends {
		ps, ok := stats.Providers[id]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "\n  %s:\n", strings.ToUpper(id))
		fmt.Fprintf(w, "    Requests: %d\n", ps.TotalRequests)
		fmt.Fprintf(w, "    Success Rate: %.1f%%\n", ps.SuccessRate()*100)
		p.Fprintf(w, "    Total Tokens: %d\n", ps.TotalTokens)
		fmt.Fprintf(w, "    Total Cost: $%.4f\n", ps.TotalCost)
		if ps.TotalRequests > 0 {
			fmt.Fprintf(w, "    Latency - P50: %.0fms, P95: %.0fms, P99: %.0fms\n",
				ps.P50LatencyMs, ps.P95LatencyMs, ps.P99LatencyMs)
		}
	}

	fmt.Fprintln(w, "\nCircuit Breaker States:")
	for _, id := range stats.Backends {
		cb, ok := stats.CircuitBreakers[id]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %s: %s %s (Failures: %d, Error Rate: %.1f%%)\n",
			id, stateIcon(cb.State), cb.State, cb.FailureCount, cb.ErrorRate*100)
	}
	fmt.Fprintf(w, "%s\n\n", rule)
}

func stateIcon(state string) string {
	switch state {
	case "closed":
		return "[OK]"
	case "open":
		return "[DOWN]"
	default:
		return "[TEST]"
	}
}
