// Command seed loads athlete refresh tokens into the webhook checkpoint
// file from a CSV with athlete_id, refresh_token and optional name columns.
package main

import (
	"encoding/csv"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"example.com/stravasync/internal/checkpoint"
)

func main() {
	csvPath := flag.String("csv", "", "CSV file with athlete_id, refresh_token and optional name columns")
	output := flag.String("output", "strava_checkpoint.json", "checkpoint file to create or update")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("-csv is required")
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("open %s: %v", *csvPath, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		log.Fatalf("read %s: %v", *csvPath, err)
	}
	if len(rows) < 2 {
		log.Fatalf("%s has no data rows", *csvPath)
	}

	idCol, tokenCol, nameCol := -1, -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "athlete_id", "athlete id", "athleteid":
			idCol = i
		case "refresh_token", "refresh token", "refreshtoken":
			tokenCol = i
		case "name", "athlete_name":
			nameCol = i
		}
	}
	if idCol < 0 || tokenCol < 0 {
		log.Fatalf("%s must have athlete_id and refresh_token columns", *csvPath)
	}

	store := checkpoint.NewStore(*output)
	cp := store.Load()
	before := len(cp.Athletes)

	now := time.Now().UTC()
	for i, row := range rows[1:] {
		id := cell(row, idCol)
		token := cell(row, tokenCol)
		if id == "" || token == "" {
			log.Printf("row %d: missing athlete_id or refresh_token; skipped", i+2)
			continue
		}
		state := cp.Subject(id)
		state.RefreshToken = token
		if name := cell(row, nameCol); name != "" {
			state.Name = name
		}
		state.LastSeenAt = now
	}

	if err := store.Save(cp); err != nil {
		log.Fatalf("save %s: %v", *output, err)
	}
	log.Printf("seeded %s: %d athletes (%d before)", *output, len(cp.Athletes), before)
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
