package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// Ensemble is a binary-logistic gradient-boosted tree model exported as JSON.
type Ensemble struct {
	baseScore  float64
	baseMargin float64
	trees      []DecisionTree
}

type ensembleFile struct {
	Objective string         `json:"objective"`
	BaseScore float64        `json:"base_score"`
	Trees     []DecisionTree `json:"trees"`
}

// NewEnsemble prepares the trees for scoring. baseScore is a probability in (0,1).
func NewEnsemble(baseScore float64, trees []DecisionTree) (*Ensemble, error) {
	if baseScore <= 0 || baseScore >= 1 {
		return nil, fmt.Errorf("base score %v outside (0,1)", baseScore)
	}
	if len(trees) == 0 {
		return nil, errors.New("ensemble has no trees")
	}
	prepared := make([]DecisionTree, len(trees))
	for i := range trees {
		prepared[i] = DecisionTree{Nodes: trees[i].Nodes}
		if err := prepared[i].checkLinks(); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		prepared[i].computeExpected()
	}
	return &Ensemble{
		baseScore:  baseScore,
		baseMargin: logit(baseScore),
		trees:      prepared,
	}, nil
}

// LoadEnsemble reads a model file written by the export script.
func LoadEnsemble(path string) (*Ensemble, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file ensembleFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	if file.Objective != "" && file.Objective != "binary:logistic" {
		return nil, fmt.Errorf("unsupported objective %q", file.Objective)
	}
	if file.BaseScore == 0 {
		file.BaseScore = 0.5
	}
	return NewEnsemble(file.BaseScore, file.Trees)
}

// Save writes the ensemble in the format LoadEnsemble reads.
func (e *Ensemble) Save(path string) error {
	payload, err := json.Marshal(ensembleFile{
		Objective: "binary:logistic",
		BaseScore: e.baseScore,
		Trees:     e.trees,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// NumTrees returns the number of boosting rounds.
func (e *Ensemble) NumTrees() int {
	return len(e.trees)
}

// Validate checks that every split refers to a column of a featureCount-wide row.
func (e *Ensemble) Validate(featureCount int) error {
	for i := range e.trees {
		if err := e.trees[i].validate(featureCount); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// Margin is the raw log-odds score of the row.
func (e *Ensemble) Margin(row []float64) (float64, error) {
	margin := e.baseMargin
	for i := range e.trees {
		v, err := e.trees[i].Predict(row)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		margin += v
	}
	return margin, nil
}

// PredictProba returns the churn probability, sigmoid of the margin.
func (e *Ensemble) PredictProba(row []float64) (float64, error) {
	margin, err := e.Margin(row)
	if err != nil {
		return 0, err
	}
	return sigmoid(margin), nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}
