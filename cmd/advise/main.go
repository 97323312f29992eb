package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// sampleClient is a realistic demo payload for exercising a full analysis
// run against a local server.
var sampleClient = map[string]any{
	"profile": map[string]any{
		"user_id":             "client_001",
		"name":                "John Doe",
		"age":                 45,
		"income":              150000,
		"risk_tolerance":      "moderate",
		"investment_timeline": "15 years",
	},
	"portfolio": map[string]any{
		"user_id":     "client_001",
		"total_value": 500000,
		"holdings": map[string]any{
			"stocks": 300000,
			"bonds":  150000,
			"cash":   50000,
		},
		"risk_score": 6.5,
	},
	"tax_info": map[string]any{
		"tax_bracket":   "24%",
		"state":         "California",
		"filing_status": "married_joint",
	},
	"goals": []map[string]any{
		{"name": "Retirement", "target_amount": 2000000, "timeline": "15 years", "priority": "high"},
		{"name": "College Fund", "target_amount": 200000, "timeline": "8 years", "priority": "medium"},
	},
}

func main() {
	server := flag.String("server", "http://localhost:8080", "advisory server URL")
	input := flag.String("input", "", "path to a client JSON file (default: built-in sample client)")
	output := flag.String("output", "financial_report.md", "path to write the markdown report")
	flag.Parse()

	payload := sampleClient
	if *input != "" {
		data, err := os.ReadFile(*input)
		if err != nil {
			fail("read input: %v", err)
		}
		payload = nil
		if err := json.Unmarshal(data, &payload); err != nil {
			fail("parse input: %v", err)
		}
	}

	body, _ := json.Marshal(payload)
	fmt.Printf("Requesting comprehensive analysis from %s...\n", *server)

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Post(*server+"/api/analyze", "application/json", bytes.NewReader(body))
	if err != nil {
		fail("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		fail("server returned %d: %s", resp.StatusCode, raw)
	}

	var analysis struct {
		ClientID string            `json:"client_id"`
		Results  map[string]string `json:"results"`
		Report   string            `json:"report"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		fail("decode response: %v", err)
	}

	fmt.Printf("Analysis complete for %s (%d sections)\n", analysis.ClientID, len(analysis.Results))
	if err := os.WriteFile(*output, []byte(analysis.Report), 0o644); err != nil {
		fail("write report: %v", err)
	}
	fmt.Printf("Report saved to %s\n", *output)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
