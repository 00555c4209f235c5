package detection

import (
	"sort"
	"time"
)

// HybridConfig configures every detector plus the aggregation views.
type HybridConfig struct {
	Statistical   StatisticalConfig `yaml:"statistical" json:"statistical"`
	Outlier       OutlierConfig     `yaml:"outlier" json:"outlier"`
	Sequence      SequenceConfig    `yaml:"sequence" json:"sequence"`
	MinMethods    int               `yaml:"min_methods" json:"min_methods"`
	MethodWeights MethodWeights     `yaml:"method_weights" json:"method_weights"`
}

// DefaultHybridConfig returns the default detector set with equal method weights and a
// two-method consensus.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		Statistical:   DefaultStatisticalConfig(),
		Outlier:       DefaultOutlierConfig(),
		Sequence:      DefaultSequenceConfig(),
		MinMethods:    2,
		MethodWeights: DefaultMethodWeights(),
	}
}

// Validate checks every section of the configuration.
func (c HybridConfig) Validate() error {
	if err := c.Statistical.Validate(); err != nil {
		return err
	}
	if err := c.Outlier.Validate(); err != nil {
		return err
	}
	if err := c.Sequence.Validate(); err != nil {
		return err
	}
	if c.MinMethods < 1 {
		return newConfigError("min_methods", "must be at least 1", c.MinMethods)
	}
	return c.MethodWeights.Validate()
}

// HybridDetector runs all detectors on a series and aggregates their findings.
type HybridDetector struct {
	cfg         HybridConfig
	statistical *StatisticalDetector
	outlier     *OutlierDetector
	sequence    *SequenceDetector
}

// NewHybridDetector validates cfg and builds the sub-detectors.
func NewHybridDetector(cfg HybridConfig) (*HybridDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.MethodWeights = cfg.MethodWeights.Clone()

	statistical, _ := NewStatisticalDetector(cfg.Statistical)
	outlier, _ := NewOutlierDetector(cfg.Outlier)
	sequence, _ := NewSequenceDetector(cfg.Sequence)
	return &HybridDetector{
		cfg:         cfg,
		statistical: statistical,
		outlier:     outlier,
		sequence:    sequence,
	}, nil
}

// Config returns a copy of the configuration.
func (h *HybridDetector) Config() HybridConfig {
	cfg := h.cfg
	cfg.MethodWeights = cfg.MethodWeights.Clone()
	return cfg
}

// DetectAnomalies runs every detector. The sequence model is trained on the given series on
// each call.
func (h *HybridDetector) DetectAnomalies(series Series) (MethodResults, error) {
	results := MethodResults{
		MethodBollinger: h.statistical.DetectBollinger(series),
		MethodZScore:    h.statistical.DetectZScore(series),
		MethodVolume:    h.statistical.DetectVolume(series),
	}

	outliers, err := h.outlier.Detect(series)
	if err != nil {
		return nil, err
	}
	results[MethodIsolationForest] = outliers

	model, err := h.sequence.Train(series)
	if err != nil {
		return nil, err
	}
	predicted, err := model.Detect(series)
	if err != nil {
		return nil, err
	}
	results[MethodLSTM] = predicted

	return results, nil
}

// ConsensusAnomalies returns the dates flagged by at least minMethods distinct methods.
func (h *HybridDetector) ConsensusAnomalies(series Series, minMethods int) ([]AnomalyResult, error) {
	results, err := h.DetectAnomalies(series)
	if err != nil {
		return nil, err
	}
	return Consensus(results, minMethods), nil
}

// WeightedAnomalies returns the dates with a positive weighted score. A nil weights map uses
// the configured weights.
func (h *HybridDetector) WeightedAnomalies(series Series, weights MethodWeights) ([]AnomalyResult, error) {
	if weights == nil {
		weights = h.cfg.MethodWeights
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	results, err := h.DetectAnomalies(series)
	if err != nil {
		return nil, err
	}
	return Weighted(results, weights), nil
}

// dateGroup collects the results that share a calendar date, in encounter order.
type dateGroup struct {
	date    time.Time
	results []AnomalyResult
	keys    []string
	methods map[string]bool
}

func (g *dateGroup) best() AnomalyResult {
	best := g.results[0]
	for _, r := range g.results[1:] {
		if r.Score > best.Score {
			best = r
		}
	}
	return best
}

func (g *dateGroup) methodList() []string {
	out := make([]string, 0, len(g.methods))
	for m := range g.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// groupByDate groups results by calendar date visiting methods in canonical order. The returned
// groups are sorted by date.
func groupByDate(results MethodResults) []*dateGroup {
	index := make(map[string]*dateGroup)
	var groups []*dateGroup
	for _, method := range results.Methods() {
		for _, r := range results[method] {
			key := r.DateKey()
			g, ok := index[key]
			if !ok {
				g = &dateGroup{date: r.Date, methods: make(map[string]bool)}
				index[key] = g
				groups = append(groups, g)
			}
			g.results = append(g.results, r)
			g.keys = append(g.keys, method)
			g.methods[method] = true
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].date.Before(groups[j].date)
	})
	return groups
}

// Consensus keeps dates where at least minMethods distinct methods fired. Each output is a copy
// of the highest-scoring result for that date, annotated with the detecting methods.
func Consensus(results MethodResults, minMethods int) []AnomalyResult {
	out := []AnomalyResult{}
	for _, g := range groupByDate(results) {
		if len(g.methods) < minMethods {
			continue
		}
		rep := g.best().Clone()
		rep.Details.DetectingMethods = g.methodList()
		rep.Details.MethodCount = len(g.methods)
		out = append(out, rep)
	}
	return out
}

// Weighted sums weight*score per date over the methods present in weights. Methods missing from
// weights do not contribute. Dates with a zero sum are dropped.
func Weighted(results MethodResults, weights MethodWeights) []AnomalyResult {
	out := []AnomalyResult{}
	for _, g := range groupByDate(results) {
		var score float64
		for k, r := range g.results {
			if w, ok := weights[g.keys[k]]; ok {
				score += w * r.Score
			}
		}
		if !(score > 0) {
			continue
		}

		base := g.best()
		details := base.Details.Clone()
		ws := score
		details.WeightedScore = &ws
		details.DetectingMethods = g.methodList()
		details.MethodWeights = weights.Clone()

		out = append(out, AnomalyResult{
			Date:      g.date,
			Score:     score,
			Threshold: 1.0,
			IsAnomaly: true,
			Method:    MethodHybridWeighted,
			Details:   details,
		})
	}
	return out
}
