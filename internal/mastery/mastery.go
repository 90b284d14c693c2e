// Package mastery implements the incremental mastery rule used by the
// hierarchical roadmap: an exponential moving average over attempt ratios
// with an immediate override to full mastery on a passing attempt.
//
// Everything here is pure. Thresholds are carried in Config so callers can
// run alternate policies side by side.
package mastery

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status is a learner's standing on a single curriculum child.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusWeak       Status = "weak"
	StatusMastered   Status = "mastered"
)

const (
	DefaultPriorWeight     = 0.7
	DefaultPassRatio       = 0.8
	DefaultExcelledMastery = 1.0
)

// Config holds the scoring thresholds.
type Config struct {
	// PriorWeight is the weight kept from the previous mastery value.
	// The attempt ratio receives 1-PriorWeight.
	PriorWeight float64
	// PassRatio is the attempt ratio at or above which the attempt counts
	// as a pass and mastery is forced to ExcelledMastery.
	PassRatio float64
	// ExcelledMastery is the stored mastery value for a pass, and the
	// threshold at which a child is no longer offered for study.
	ExcelledMastery float64
}

// DefaultConfig returns the production thresholds (0.7 / 0.8 / 1.0).
func DefaultConfig() Config {
	return Config{
		PriorWeight:     DefaultPriorWeight,
		PassRatio:       DefaultPassRatio,
		ExcelledMastery: DefaultExcelledMastery,
	}
}

// Result is the outcome of applying one attempt.
type Result struct {
	Mastery float64
	Status  Status
	Ratio   float64
}

// Tracker applies the mastery rule with a fixed Config.
type Tracker struct {
	cfg Config
}

// NewTracker creates a tracker. Zero fields in cfg fall back to defaults.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.PriorWeight == 0 {
		cfg.PriorWeight = def.PriorWeight
	}
	if cfg.PassRatio == 0 {
		cfg.PassRatio = def.PassRatio
	}
	if cfg.ExcelledMastery == 0 {
		cfg.ExcelledMastery = def.ExcelledMastery
	}
	return &Tracker{cfg: cfg}
}

// Config returns the thresholds in use.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Update folds an attempt of correct/total into prior. total must be > 0;
// callers reject anything else before reaching here.
func (t *Tracker) Update(prior float64, correct, total int) Result {
	ratio := 0.0
	if total > 0 {
		ratio = clamp(float64(correct)/float64(total), 0, 1)
	}

	prior = clamp(prior, 0, 1)
	next := prior*t.cfg.PriorWeight + ratio*(1-t.cfg.PriorWeight)

	if ratio >= t.cfg.PassRatio {
		return Result{
			Mastery: clamp(t.cfg.ExcelledMastery, 0, 1),
			Status:  StatusMastered,
			Ratio:   ratio,
		}
	}

	return Result{
		Mastery: clamp(next, 0, 1),
		Status:  StatusWeak,
		Ratio:   ratio,
	}
}

// NeedsStudy reports whether a child with the given standing is still
// offered as study material.
func (t *Tracker) NeedsStudy(status Status, score float64) bool {
	return status != StatusMastered && score < t.cfg.ExcelledMastery
}

// ScorePercent renders a ratio as a rounded whole percentage.
func ScorePercent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(clamp(float64(correct)/float64(total), 0, 1)*100 + 0.5)
}

// ChildProgress is the per-child ledger entry for a learner.
type ChildProgress struct {
	Name             string     `json:"name"`
	Status           Status     `json:"status"`
	MasteryScore     float64    `json:"mastery_score"`
	CorrectCount     int        `json:"correct_count"`
	TotalCount       int        `json:"total_count"`
	Attempts         int        `json:"attempts"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
}

// NewChildProgress returns a not-started entry for name.
func NewChildProgress(name string) ChildProgress {
	return ChildProgress{Name: name, Status: StatusNotStarted}
}

// Apply records an attempt on the entry and returns the scoring result.
func (t *Tracker) Apply(cp *ChildProgress, correct, total, elapsedSeconds int, at time.Time) Result {
	res := t.Update(cp.MasteryScore, correct, total)
	cp.MasteryScore = res.Mastery
	cp.Status = res.Status
	cp.CorrectCount += correct
	cp.TotalCount += total
	cp.Attempts++
	if elapsedSeconds > 0 {
		cp.TimeSpentSeconds += elapsedSeconds
	}
	ts := at
	cp.LastAttemptAt = &ts
	return res
}

// Normalize is the matching key for child names: trimmed and lowercased.
// Full case folding is not applied, so "Straße" and "STRASSE" stay distinct.
func Normalize(name string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(name))
}

// Find returns the index of the entry matching name, or -1.
func Find(children []ChildProgress, name string) int {
	key := Normalize(name)
	for i := range children {
		if Normalize(children[i].Name) == key {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
