package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mcdev12/karuta/go/internal/karuta/deck"
	"github.com/mcdev12/karuta/go/internal/karuta/session"
)

// check_deck reports how a deck file will be read before it is uploaded to a group
func main() {
	numCards := flag.Int("num-cards", session.DefaultNumCards, "cards displayed per round")
	maxQuestions := flag.Int("max-questions", session.DefaultMaxQuestions, "questions per session")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: check_deck [-num-cards N] [-max-questions N] deck.(yaml|csv)")
		os.Exit(2)
	}
	path := flag.Arg(0)

	// 1) Read raw rows
	rows, err := deck.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read deck: %v\n", err)
		os.Exit(1)
	}

	// 2) Build and count what was dropped
	d, err := deck.Build(rows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build deck: %v\n", err)
		os.Exit(1)
	}

	total, kept := len(rows), d.Len()
	incomplete, duplicates := countDropped(rows, kept)

	fmt.Printf("Deck %s: %d rows, %d cards, %d incomplete, %d duplicate numbers\n",
		path, total, kept, incomplete, duplicates)

	// 3) Check it against the settings a group would use
	settings := session.Settings{
		NumCards:     *numCards,
		MaxQuestions: *maxQuestions,
		RevealPaceMs: session.DefaultRevealPaceMs,
	}
	if err := settings.Validate(kept); err != nil {
		fmt.Fprintf(os.Stderr, "invalid for these settings: %v\n", err)
		os.Exit(1)
	}
	if *maxQuestions > kept {
		fmt.Printf("Note: %d questions over %d cards, prompts will repeat\n", *maxQuestions, kept)
	}
}

// countDropped splits the rows Build discarded into incomplete rows and repeated numbers
func countDropped(rows []deck.Row, kept int) (incomplete, duplicates int) {
	for _, r := range rows {
		if !r.Complete() {
			incomplete++
		}
	}
	return incomplete, len(rows) - kept - incomplete
}
