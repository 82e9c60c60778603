// README: Pluggable contractor rating strategies.
package order

import (
	"fmt"
	"strings"
)

const (
	MinScore = 1
	MaxScore = 5
)

// RatingStrategy folds a new score into a contractor's aggregate rating.
// count is the number of scores already folded into current.
type RatingStrategy interface {
	Next(current float64, count int, score int) float64
}

// RunningAverage weighs every score equally.
type RunningAverage struct{}

func (RunningAverage) Next(current float64, count int, score int) float64 {
	if count <= 0 {
		return float64(score)
	}
	return (current*float64(count) + float64(score)) / float64(count+1)
}

// RecencyWeighted is an exponential moving average; Alpha in (0,1] is the
// weight of the newest score.
type RecencyWeighted struct {
	Alpha float64
}

func (r RecencyWeighted) Next(current float64, count int, score int) float64 {
	if count <= 0 {
		return float64(score)
	}
	return r.Alpha*float64(score) + (1-r.Alpha)*current
}

func NewRatingStrategy(name string, alpha float64) (RatingStrategy, error) {
	switch strings.ToLower(name) {
	case "", "average", "running_average":
		return RunningAverage{}, nil
	case "recency", "recency_weighted", "ema":
		if alpha <= 0 || alpha > 1 {
			return nil, fmt.Errorf("rating alpha %.2f out of (0,1]", alpha)
		}
		return RecencyWeighted{Alpha: alpha}, nil
	}
	return nil, fmt.Errorf("unknown rating strategy %q", name)
}

func validScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}
