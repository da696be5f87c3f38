// Package poll tallies poll votes against the poll's option list.
package poll

import (
	"bytes"
	"sort"
	"time"
)

// HashFunc maps option names to the per-option hashes voters send. The
// protocol library supplies the real implementation.
type HashFunc func(options []string) [][]byte

// Vote is one vote update. An empty selection retracts the voter's
// earlier choice.
type Vote struct {
	Voter          string
	SelectedHashes [][]byte
	Timestamp      time.Time
}

// Result is the tally for a single option.
type Result struct {
	Name   string
	Voters []string
}

// Aggregate returns one Result per option, in option order. Only the
// latest vote of each voter counts; equal timestamps resolve to the vote
// appearing later in votes. Hashes that match no option are ignored.
// Voters within a result are sorted.
func Aggregate(options []string, votes []Vote, hash HashFunc) []Result {
	results := make([]Result, len(options))
	for i, name := range options {
		results[i] = Result{Name: name, Voters: []string{}}
	}
	if len(options) == 0 {
		return results
	}
	hashes := hash(options)

	latest := make(map[string]Vote, len(votes))
	for _, v := range votes {
		if prev, ok := latest[v.Voter]; ok && v.Timestamp.Before(prev.Timestamp) {
			continue
		}
		latest[v.Voter] = v
	}

	for voter, v := range latest {
		for _, selected := range v.SelectedHashes {
			for i, h := range hashes {
				if i < len(results) && bytes.Equal(h, selected) {
					results[i].Voters = append(results[i].Voters, voter)
					break
				}
			}
		}
	}
	for i := range results {
		sort.Strings(results[i].Voters)
	}
	return results
}

// Counts flattens results to option name -> vote count.
func Counts(results []Result) map[string]int {
	out := make(map[string]int, len(results))
	for _, r := range results {
		out[r.Name] = len(r.Voters)
	}
	return out
}
