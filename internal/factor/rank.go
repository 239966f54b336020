package factor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
)

// Ranked is the per-date rank of one stock. Rank 0 means no value.
type Ranked struct {
	Date time.Time
	Code string
	Rank float64
}

type rankKey struct {
	date time.Time
	code string
}

// RankByFactor ranks stocks by value within each date.
// positiveCorr=true ranks the smallest value first; ties share the average rank.
// Missing or NaN values get rank 0. Output keeps the input order.
func RankByFactor(values []contracts.FactorValue, positiveCorr bool) []Ranked {
	out := make([]Ranked, len(values))
	byDate := make(map[time.Time][]int)
	for i, v := range values {
		out[i] = Ranked{Date: v.Date, Code: v.Code}
		if v.Value == nil || math.IsNaN(*v.Value) {
			continue
		}
		byDate[v.Date] = append(byDate[v.Date], i)
	}

	for _, idx := range byDate {
		val := func(i int) float64 { return *values[idx[i]].Value }
		sort.SliceStable(idx, func(a, b int) bool {
			if positiveCorr {
				return *values[idx[a]].Value < *values[idx[b]].Value
			}
			return *values[idx[a]].Value > *values[idx[b]].Value
		})
		assignAverageRanks(len(idx), val, func(i int, rank float64) { out[idx[i]].Rank = rank })
	}
	return out
}

// WeightedRank sums weighted ranks over (date, code) pairs present in every input
// and ranks the sums per date. Output is ordered by (date, code).
func WeightedRank(ranked [][]Ranked, weights []float64, positiveCorr bool) ([]Ranked, error) {
	if len(ranked) != len(weights) {
		return nil, fmt.Errorf("weighted rank: %d rankings but %d weights", len(ranked), len(weights))
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	sums := make(map[rankKey]float64)
	seen := make(map[rankKey]int)
	for i, list := range ranked {
		for _, r := range list {
			k := rankKey{r.Date, r.Code}
			if seen[k] != i {
				continue // 앞선 랭킹에 없던 쌍 (inner join)
			}
			seen[k] = i + 1
			sums[k] += r.Rank * weights[i]
		}
	}

	values := make([]contracts.FactorValue, 0, len(sums))
	for k, sum := range sums {
		if seen[k] != len(ranked) {
			continue
		}
		s := sum
		values = append(values, contracts.FactorValue{Date: k.date, Code: k.code, Factor: "weighted", Value: &s})
	}
	sort.Slice(values, func(i, j int) bool {
		if !values[i].Date.Equal(values[j].Date) {
			return values[i].Date.Before(values[j].Date)
		}
		return values[i].Code < values[j].Code
	})

	return RankByFactor(values, positiveCorr), nil
}

// EqualWeights returns n weights of 1/n
func EqualWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// assignAverageRanks walks n sorted values and gives tied runs the mean of their 1-based positions
func assignAverageRanks(n int, val func(i int) float64, set func(i int, rank float64)) {
	for start := 0; start < n; {
		end := start + 1
		for end < n && val(end) == val(start) {
			end++
		}
		avg := float64(start+1+end) / 2
		for i := start; i < end; i++ {
			set(i, avg)
		}
		start = end
	}
}
