// cmd/import loads historical prices from a CSV file into the price_history
// table. The CSV needs a header row naming the timestamp column first, then
// one column per asset:
//
//	ts,btc,eth,usdt
//	1700000000,37000.5,2050.2,1.0
//
// Timestamps are unix seconds or RFC 3339.
//
// Usage:
//
//	go run ./cmd/import --db=data/oracle.db --csv=prices.csv
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	sqlitestore "oracle-traderv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/oracle.db", "Path to SQLite database")
	csvPath := flag.String("csv", "", "Path to the price CSV file")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("[import] --csv is required")
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("[import] open csv: %v", err)
	}
	defer f.Close()

	store, err := sqlitestore.Open(*dbPath)
	if err != nil {
		log.Fatalf("[import] sqlite open failed: %v", err)
	}
	defer store.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		log.Fatalf("[import] read header: %v", err)
	}
	if len(header) < 2 {
		log.Fatalf("[import] header needs a timestamp column plus at least one asset, got %v", header)
	}
	symbols := make([]string, len(header)-1)
	for i, h := range header[1:] {
		symbols[i] = strings.ToLower(strings.TrimSpace(h))
	}
	log.Printf("[import] assets: %v", symbols)

	ctx := context.Background()
	imported, skipped := 0, 0
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("[import] line %d: %v", line, err)
		}

		ts, err := parseTimestamp(rec[0])
		if err != nil {
			log.Printf("[import] line %d: skipping, bad timestamp %q: %v", line, rec[0], err)
			skipped++
			continue
		}

		prices := make(map[string]float64, len(symbols))
		ok := true
		for i, sym := range symbols {
			p, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil || p <= 0 {
				log.Printf("[import] line %d: skipping, bad price for %s: %q", line, sym, rec[i+1])
				ok = false
				break
			}
			prices[sym] = p
		}
		if !ok {
			skipped++
			continue
		}

		if err := store.InsertPriceRow(ctx, ts, prices); err != nil {
			log.Fatalf("[import] line %d: insert failed: %v", line, err)
		}
		imported++
	}

	log.Printf("[import] done: %d periods imported, %d skipped", imported, skipped)
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
