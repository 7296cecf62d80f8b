// Package questions holds the read-only question bank shared by all games.
package questions

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"

	"go.uber.org/multierr"

	"github.com/DoyleJ11/quiz-arena-backend/internal/engine"
)

//go:embed default.json
var defaultBank []byte

// Record is the on-disk form of a question.
type Record struct {
	ID            string   `json:"id"`
	Level         string   `json:"level"`
	Points        int      `json:"points"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Popup         string   `json:"popup,omitempty"`
}

// Bank is safe for concurrent use: it is never mutated after New. Each game
// passes its own used set.
type Bank struct {
	byLevel map[engine.Level][]engine.Question
	intN    func(n int) int
}

func New(records []Record) (*Bank, error) {
	b := &Bank{byLevel: map[engine.Level][]engine.Question{}, intN: rand.IntN}

	var errs error
	seen := map[string]bool{}
	for i, r := range records {
		q, err := r.question()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("question %d (%q): %w", i, r.ID, err))
			continue
		}
		if seen[q.ID] {
			errs = multierr.Append(errs, fmt.Errorf("question %d: duplicate id %q", i, q.ID))
			continue
		}
		seen[q.ID] = true
		b.byLevel[q.Level] = append(b.byLevel[q.Level], q)
	}
	if errs != nil {
		return nil, errs
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("question bank is empty")
	}
	return b, nil
}

func (r Record) question() (engine.Question, error) {
	level, ok := engine.ParseLevel(r.Level)
	switch {
	case r.ID == "":
		return engine.Question{}, fmt.Errorf("missing id")
	case !ok:
		return engine.Question{}, fmt.Errorf("unknown level %q", r.Level)
	case r.Points < 0:
		return engine.Question{}, fmt.Errorf("negative points")
	case len(r.Options) < 2:
		return engine.Question{}, fmt.Errorf("need at least two options")
	case r.CorrectAnswer < 0 || r.CorrectAnswer >= len(r.Options):
		return engine.Question{}, fmt.Errorf("correct answer %d out of range", r.CorrectAnswer)
	}
	return engine.Question{
		ID:            r.ID,
		Level:         level,
		Points:        r.Points,
		Text:          r.Prompt,
		Options:       append([]string(nil), r.Options...),
		CorrectAnswer: r.CorrectAnswer,
		Popup:         r.Popup,
	}, nil
}

// Pick returns a random question of the level that is not in used.
func (b *Bank) Pick(level engine.Level, used map[string]bool) (engine.Question, bool) {
	var free []engine.Question
	for _, q := range b.byLevel[level] {
		if !used[q.ID] {
			free = append(free, q)
		}
	}
	if len(free) == 0 {
		return engine.Question{}, false
	}
	return free[b.intN(len(free))], true
}

func (b *Bank) Remaining(level engine.Level, used map[string]bool) int {
	n := 0
	for _, q := range b.byLevel[level] {
		if !used[q.ID] {
			n++
		}
	}
	return n
}

// Size is the number of questions per level.
func (b *Bank) Size() map[engine.Level]int {
	out := make(map[engine.Level]int, len(b.byLevel))
	for l, qs := range b.byLevel {
		out[l] = len(qs)
	}
	return out
}

func Default() (*Bank, error) {
	return parse(defaultBank)
}

func LoadFile(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Bank, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return New(records)
}
