// scrape-check scrapes a running adapter, validates the exposition text and
// reports timings and per-family sample counts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/common/expfmt"
)

// ScrapeResult holds the results of a scrape
type ScrapeResult struct {
	Duration time.Duration  `json:"duration"`
	Samples  map[string]int `json:"samples,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Config holds the configuration for the check
type Config struct {
	Endpoint string
	Account  string
	Runs     int
	Format   string // "text" or "json"
}

var expectedFamilies = []string{
	"water_temperature",
	"external_temperature",
	"current_room_temperature",
	"target_room_temperature",
	"pump_state",
	"overheat_state",
}

func main() {
	var config Config
	flag.StringVar(&config.Endpoint, "endpoint", "http://localhost:9611", "Adapter endpoint")
	flag.StringVar(&config.Account, "account", "", "Account to scrape (default account when empty)")
	flag.IntVar(&config.Runs, "runs", 1, "Number of scrape runs to perform")
	flag.StringVar(&config.Format, "format", "text", "Output format (text or json)")
	flag.Parse()

	results := make([]ScrapeResult, config.Runs)
	failed := false
	for i := range results {
		results[i] = performScrape(config)
		if results[i].Error != "" {
			failed = true
		}
	}

	switch config.Format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		printSummary(results)
	}

	if failed {
		os.Exit(1)
	}
}

func performScrape(config Config) ScrapeResult {
	result := ScrapeResult{}

	target := config.Endpoint + "/ngbs"
	if config.Account != "" {
		target += "?account=" + url.QueryEscape(config.Account)
	}

	start := time.Now()
	resp, err := http.Get(target) //nolint:gosec // endpoint is provided by the operator
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = fmt.Sprintf("failed to scrape: %v", err)
		return result
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read body: %v", err)
		return result
	}
	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Sprintf("scrape failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return result
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(string(body)))
	if err != nil {
		result.Error = fmt.Sprintf("invalid exposition text: %v", err)
		return result
	}

	result.Samples = make(map[string]int, len(families))
	for name, mf := range families {
		result.Samples[name] = len(mf.GetMetric())
	}
	for _, name := range expectedFamilies {
		if _, ok := families[name]; !ok {
			result.Error = fmt.Sprintf("metric family %s is missing", name)
			return result
		}
	}
	return result
}

func printSummary(results []ScrapeResult) {
	var total time.Duration
	ok := 0
	for i, r := range results {
		if r.Error != "" {
			fmt.Printf("Run %d: ERROR after %v: %s\n", i+1, r.Duration, r.Error)
			continue
		}
		ok++
		total += r.Duration
		fmt.Printf("Run %d: %v\n", i+1, r.Duration)
	}

	if ok == 0 {
		return
	}
	fmt.Printf("\nSuccessful scrapes: %d/%d, average duration: %v\n", ok, len(results), total/time.Duration(ok))

	last := results[len(results)-1].Samples
	names := make([]string, 0, len(last))
	for name := range last {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-26s %d\n", name, last[name])
	}
}
