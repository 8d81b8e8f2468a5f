// Package plan builds the randomized, load-balanced assignment of sender
// accounts and subject/body variants to recipients.
package plan

import (
	"errors"
	"math/rand/v2"
)

var ErrEmptyDimension = errors.New("plan: accounts, subjects and bodies must be non-empty")

// Plan holds three parallel arrays, index-aligned with the recipient list the
// plan was built for.
type Plan struct {
	Accounts []string
	Subjects []string
	Bodies   []string
}

// Build assigns each of n recipients one account, one subject and one body.
// Each dimension is filled by cycling its source list and then shuffled
// independently, so per-source counts differ by at most one while the
// (recipient, account, subject, body) combinations stay unpredictable.
func Build(n int, accounts, subjects, bodies []string, rng *rand.Rand) (*Plan, error) {
	if n <= 0 {
		return nil, errors.New("plan: no recipients")
	}
	if len(accounts) == 0 || len(subjects) == 0 || len(bodies) == 0 {
		return nil, ErrEmptyDimension
	}
	p := &Plan{
		Accounts: cycle(n, accounts),
		Subjects: cycle(n, subjects),
		Bodies:   cycle(n, bodies),
	}
	shuffle(p.Accounts, rng)
	shuffle(p.Subjects, rng)
	shuffle(p.Bodies, rng)
	return p, nil
}

func cycle(n int, src []string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = src[i%len(src)]
	}
	return out
}

func shuffle(s []string, rng *rand.Rand) {
	if rng == nil {
		rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		return
	}
	rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}
