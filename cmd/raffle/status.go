// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/blinklabs-io/raffle/database"
	"github.com/blinklabs-io/raffle/internal/config"
	"github.com/blinklabs-io/raffle/round"
	"github.com/spf13/cobra"
)

var statusFlags = struct {
	winners int
	json    bool
}{}

type statusWinner struct {
	Winner      string    `json:"winner"`
	Amount      uint64    `json:"amount"`
	RoundNumber uint64    `json:"round_number"`
	RequestID   uint64    `json:"request_id"`
	RandomWord  string    `json:"random_word"`
	PaidAt      time.Time `json:"paid_at"`
}

type statusOutput struct {
	State           string         `json:"state"`
	RoundNumber     uint64         `json:"round_number"`
	Participants    int            `json:"participants"`
	Balance         uint64         `json:"balance"`
	RecentWinner    string         `json:"recent_winner,omitempty"`
	PendingRequest  *uint64        `json:"pending_request,omitempty"`
	LastFinalizedAt *time.Time     `json:"last_finalized_at,omitempty"`
	Winners         []statusWinner `json:"winners"`
}

func statusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted raffle state",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := configFromCommand(cmd)
			if err := statusRun(cmd.Context(), cfg); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
	cmd.Flags().
		IntVar(&statusFlags.winners, "winners", 10, "number of recent winners to show")
	cmd.Flags().
		BoolVar(&statusFlags.json, "json", false, "output as JSON")
	return cmd
}

func statusRun(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabasePath == "" {
		return fmt.Errorf("no database path configured")
	}
	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	db, err := database.New(database.Config{
		DataDir:       cfg.DatabasePath,
		DisableBlobGC: true,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	out, err := buildStatus(ctx, db.RoundStore(), statusFlags.winners)
	if err != nil {
		return err
	}
	if statusFlags.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printStatus(out)
	return nil
}

func buildStatus(
	ctx context.Context,
	store round.Store,
	winnerLimit int,
) (statusOutput, error) {
	out := statusOutput{
		State:   round.StateOpen.String(),
		Winners: []statusWinner{},
	}
	persisted, err := store.Load(ctx)
	if err != nil {
		return out, fmt.Errorf("loading round: %w", err)
	}
	if persisted != nil {
		rec := persisted.Round
		out.State = rec.State.String()
		out.RoundNumber = rec.Number
		out.Participants = len(persisted.Participants)
		out.Balance = uint64(rec.Balance)
		out.RecentWinner = string(rec.RecentWinner)
		if rec.PendingRequest != nil {
			tmp := uint64(*rec.PendingRequest)
			out.PendingRequest = &tmp
		}
		if !rec.LastFinalizedAt.IsZero() {
			tmp := rec.LastFinalizedAt
			out.LastFinalizedAt = &tmp
		}
	}
	winners, err := store.Winners(ctx, winnerLimit)
	if err != nil {
		return out, fmt.Errorf("loading winners: %w", err)
	}
	for _, w := range winners {
		tmpWinner := statusWinner{
			Winner:      string(w.Winner),
			Amount:      uint64(w.Amount),
			RoundNumber: w.RoundNumber,
			RequestID:   uint64(w.RequestID),
			PaidAt:      w.PaidAt,
		}
		if w.RandomWord != nil {
			tmpWinner.RandomWord = w.RandomWord.String()
		}
		out.Winners = append(out.Winners, tmpWinner)
	}
	return out, nil
}

func printStatus(out statusOutput) {
	fmt.Printf("state:         %s\n", out.State)
	fmt.Printf("round:         %d\n", out.RoundNumber)
	fmt.Printf("participants:  %d\n", out.Participants)
	fmt.Printf("balance:       %d\n", out.Balance)
	if out.RecentWinner != "" {
		fmt.Printf("recent winner: %s\n", out.RecentWinner)
	}
	if out.PendingRequest != nil {
		fmt.Printf("pending:       request %d\n", *out.PendingRequest)
	}
	if out.LastFinalizedAt != nil {
		fmt.Printf("finalized at:  %s\n", out.LastFinalizedAt.Format(time.RFC3339))
	}
	if len(out.Winners) == 0 {
		return
	}
	fmt.Println("winners:")
	for _, w := range out.Winners {
		fmt.Printf(
			"  round %d: %s won %d (request %d)\n",
			w.RoundNumber,
			w.Winner,
			w.Amount,
			w.RequestID,
		)
	}
}
