// Package metric derives each candidate's outcome (buggy or not, and an
// optional scalar score) from its raw execution artifact.
package metric

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/seantiz/crucible/internal/model"
)

// ErrEvaluation marks failures of metric derivation itself, as opposed to a
// candidate simply scoring badly or not at all.
var ErrEvaluation = errors.New("metric evaluation failure")

// Marker is the line prefix candidates print their score behind, e.g.
// "crucible_metric: 0.8731".
const Marker = "crucible_metric:"

// Classifier turns an execution artifact into a node's final outcome.
type Classifier interface {
	// Classify returns whether the candidate is buggy and its score, if any.
	// An error means derivation itself broke and the step must surface it.
	Classify(n *model.Node, res model.ExecResult) (buggy bool, metric *float64, err error)
}

// MarkerClassifier is the deterministic classifier: a candidate is buggy if
// it timed out, exited nonzero, or never printed a marker line; otherwise
// its score is the raw value on the last marker line. The journal owns the
// metric's direction; no sign games happen here.
type MarkerClassifier struct{}

// Classify implements Classifier.
func (MarkerClassifier) Classify(n *model.Node, res model.ExecResult) (bool, *float64, error) {
	if n.Evaluated() {
		return false, nil, fmt.Errorf("%w: node %s already has an outcome", ErrEvaluation, n.ID)
	}
	if res.Timeout || res.ExitCode != 0 {
		return true, nil, nil
	}

	raw, ok := lastMarkerValue(res.Output)
	if !ok {
		return true, nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return true, nil, nil
	}
	return false, &v, nil
}

func lastMarkerValue(output string) (string, bool) {
	var value string
	var found bool
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, Marker); ok {
			value = strings.TrimSpace(rest)
			found = true
		}
	}
	return value, found
}
