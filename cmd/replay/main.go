// Package main replays a recorded price series through a session engine
// and prints the settlement outcome and the crown it would earn.
// Useful for checking boundary math against historical candles without
// touching the exchange.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/reward"
	"perp-ritual-lab/internal/session"
)

func main() {
	pricesPath := flag.String("prices", "", "Price series file, one price per line (\"-\" for stdin, required)")
	side := flag.String("side", "LONG", "Position side: LONG or SHORT")
	margin := flag.Float64("margin", 5, "Margin in USD")
	leverage := flag.Float64("leverage", 40, "Leverage multiplier")
	tpMultiple := flag.Float64("tp-multiple", 0.5, "Target profit as a multiple of margin")
	entry := flag.Float64("entry", 0, "Entry fill price (default: first price in the series)")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	if *pricesPath == "" {
		logger.Fatal("--prices is required")
	}

	prices, err := readPrices(*pricesPath)
	if err != nil {
		logger.Fatalf("read prices: %v", err)
	}
	if len(prices) == 0 {
		logger.Fatal("price series is empty")
	}

	entryPx := *entry
	if entryPx == 0 {
		entryPx = prices[0]
	}

	params := session.OpenParams{
		Side:       domain.TradeSide(strings.ToUpper(*side)),
		MarginUSD:  *margin,
		Leverage:   *leverage,
		TPMultiple: *tpMultiple,
	}
	if params.Side != domain.SideLong && params.Side != domain.SideShort {
		logger.Fatalf("invalid --side %q", *side)
	}

	fillSize := params.MarginUSD * params.Leverage / entryPx
	sess := session.NewFromFill(params, entryPx, fillSize, 0, time.Now())
	engine := session.New(sess)

	ticks := 0
	settledAt := -1
	for i, price := range prices {
		_, settled := engine.Tick(price)
		ticks++
		if settled {
			settledAt = i
			break
		}
	}

	final := engine.Session()
	summary := buildSummary(&final, ticks, settledAt)

	if *outputJSON {
		output, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(output))
		return
	}

	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Side:          %s\n", final.Side)
	fmt.Printf("Entry Price:   %.4f\n", final.EntryPrice)
	fmt.Printf("Liq Price:     %.4f\n", final.LiqPrice)
	fmt.Printf("Target Price:  %.4f\n", final.TargetPrice)
	fmt.Printf("Ticks:         %d / %d\n", ticks, len(prices))
	fmt.Printf("Status:        %s\n", final.Status)
	fmt.Printf("Final Price:   %.4f\n", final.CurrentPrice)
	fmt.Printf("Final Luck:    %.4f\n", final.LastLuck())
	fmt.Printf("PnL:           %.4f USD\n", final.PnLUSD(final.CurrentPrice))
	if summary.AwardedTier != "" {
		fmt.Printf("Crown:         %s", summary.AwardedTier)
		if len(summary.Upgrades) > 0 {
			fmt.Printf(" (promotions: %s)", strings.Join(summary.Upgrades, ", "))
		}
		fmt.Println()
	}
}

// ReplaySummary is the outcome of one replayed series.
type ReplaySummary struct {
	Side        string   `json:"side"`
	EntryPrice  float64  `json:"entry_price"`
	LiqPrice    float64  `json:"liq_price"`
	TargetPrice float64  `json:"target_price"`
	Ticks       int      `json:"ticks"`
	SettledAt   int      `json:"settled_at_tick"` // -1 when the series ran out
	Status      string   `json:"status"`
	FinalPrice  float64  `json:"final_price"`
	FinalLuck   float64  `json:"final_luck"`
	PnLUSD      float64  `json:"pnl_usd"`
	AwardedTier string   `json:"awarded_tier,omitempty"`
	Upgrades    []string `json:"upgrades,omitempty"`
}

func buildSummary(final *domain.TradeSession, ticks, settledAt int) ReplaySummary {
	summary := ReplaySummary{
		Side:        string(final.Side),
		EntryPrice:  final.EntryPrice,
		LiqPrice:    final.LiqPrice,
		TargetPrice: final.TargetPrice,
		Ticks:       ticks,
		SettledAt:   settledAt,
		Status:      string(final.Status),
		FinalPrice:  final.CurrentPrice,
		FinalLuck:   final.LastLuck(),
		PnLUSD:      final.PnLUSD(final.CurrentPrice),
	}

	if final.Status.Terminal() {
		// Award preview against an empty inventory.
		_, event := reward.Award(domain.NewCrownInventory(), final.Status, final.TPMultiple, time.Now())
		summary.AwardedTier = string(event.AwardedTierID)
		for _, tier := range event.Upgrades {
			summary.Upgrades = append(summary.Upgrades, string(tier))
		}
	}
	return summary
}

// readPrices parses one price per line. Blank lines and # comments are
// skipped; "timestamp,price" lines take the last field.
func readPrices(path string) ([]float64, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		reader = f
	}

	var prices []float64
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		raw := strings.TrimSpace(fields[len(fields)-1])
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", raw, err)
		}
		prices = append(prices, price)
	}
	return prices, scanner.Err()
}
