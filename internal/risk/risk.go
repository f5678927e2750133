// ABOUTME: Heuristic spoofing risk scoring over reported GPS samples
// ABOUTME: Weighted additive score, level/action mapping, side-effect-free assessment

package risk

import (
	"math"
	"time"

	"github.com/clinova/attendance/internal/geofence"
)

// Level classifies a risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Action is what the engine does with the attempt.
type Action string

const (
	ActionNone    Action = "none"
	ActionWarning Action = "warning"
	ActionFlagged Action = "flagged"
	ActionBlocked Action = "blocked"
)

// Indicator names for the spoofing_indicators list.
const (
	IndicatorPoorAccuracy        = "accuracy_below_required"
	IndicatorPerfectAccuracy     = "accuracy_suspiciously_perfect"
	IndicatorFingerprintMismatch = "device_fingerprint_mismatch"
	IndicatorImplausibleSpeed    = "implausible_travel_speed"
)

// Config holds the heuristic weights and thresholds. The numbers are
// deliberately configurable; the defaults follow what the product observed
// in the field but are not settled.
type Config struct {
	// Risk added per meter of reported accuracy beyond the site's required
	// accuracy, and the cap on that contribution.
	AccuracyOveragePerMeter float64 `yaml:"accuracy_overage_per_meter"`
	AccuracyOverageCap      int     `yaml:"accuracy_overage_cap"`

	// Accuracy at or below this many meters is a known spoofing-app
	// artifact (real GPS fixes are rarely that good).
	PerfectAccuracyMaxMeters float64 `yaml:"perfect_accuracy_max_meters"`
	PerfectAccuracyRisk      int     `yaml:"perfect_accuracy_risk"`

	FingerprintMismatchRisk int `yaml:"fingerprint_mismatch_risk"`

	// Movement faster than this between consecutive samples is implausible.
	MaxSpeedKMH          float64 `yaml:"max_speed_kmh"`
	ImplausibleSpeedRisk int     `yaml:"implausible_speed_risk"`

	// Score thresholds for the level/action mapping.
	BlockAt int `yaml:"block_at"`
	FlagAt  int `yaml:"flag_at"`
	WarnAt  int `yaml:"warn_at"`
}

// DefaultConfig returns the field-observed defaults.
func DefaultConfig() Config {
	return Config{
		AccuracyOveragePerMeter:  0.5,
		AccuracyOverageCap:       25,
		PerfectAccuracyMaxMeters: 1.0,
		PerfectAccuracyRisk:      35,
		FingerprintMismatchRisk:  30,
		MaxSpeedKMH:              200,
		ImplausibleSpeedRisk:     40,
		BlockAt:                  80,
		FlagAt:                   60,
		WarnAt:                   30,
	}
}

// Sample is one reported position attempt.
type Sample struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	Fingerprint    string
	At             time.Time
}

// History is what the analyzer knows about the user's past activity.
// KnownFingerprint is the device fingerprint from the user's most recent
// completed session; LastSample is the most recent screened position of
// any outcome, used for the velocity check.
type History struct {
	KnownFingerprint string
	LastSample       *Sample
}

// Assessment is the outcome of screening one sample. It carries everything
// the audit record needs; the analyzer itself never writes anything.
type Assessment struct {
	Score      int
	Level      Level
	Action     Action
	Blocked    bool
	Spoofed    bool
	Indicators []string
	Detections map[string]any
}

// Analyzer screens position samples for spoofing risk.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer with the given heuristic configuration.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Assess scores one sample against the site's required accuracy and the
// user's history. The contributions are additive and the total is capped
// at 100.
func (a *Analyzer) Assess(sample Sample, requiredAccuracyMeters float64, hist History) Assessment {
	score := 0
	var indicators []string
	detections := map[string]any{
		"reported_accuracy_m": sample.AccuracyMeters,
		"required_accuracy_m": requiredAccuracyMeters,
	}

	// Accuracy worse than the site requires, proportional to the overage.
	if requiredAccuracyMeters > 0 && sample.AccuracyMeters > requiredAccuracyMeters {
		overage := sample.AccuracyMeters - requiredAccuracyMeters
		added := int(math.Min(float64(a.cfg.AccuracyOverageCap), overage*a.cfg.AccuracyOveragePerMeter))
		if added > 0 {
			score += added
			indicators = append(indicators, IndicatorPoorAccuracy)
			detections["accuracy_overage_m"] = math.Round(overage*10) / 10
			detections["accuracy_overage_risk"] = added
		}
	}

	// Suspiciously perfect accuracy.
	if sample.AccuracyMeters > 0 && sample.AccuracyMeters <= a.cfg.PerfectAccuracyMaxMeters {
		score += a.cfg.PerfectAccuracyRisk
		indicators = append(indicators, IndicatorPerfectAccuracy)
		detections["perfect_accuracy_risk"] = a.cfg.PerfectAccuracyRisk
	}

	// Device changed since the last completed session.
	if hist.KnownFingerprint != "" && sample.Fingerprint != "" && sample.Fingerprint != hist.KnownFingerprint {
		score += a.cfg.FingerprintMismatchRisk
		indicators = append(indicators, IndicatorFingerprintMismatch)
		detections["fingerprint_mismatch_risk"] = a.cfg.FingerprintMismatchRisk
	}

	// Implausible velocity since the last screened sample.
	if speed, ok := a.speedSince(sample, hist.LastSample); ok {
		detections["speed_kmh"] = math.Round(speed*10) / 10
		if speed > a.cfg.MaxSpeedKMH {
			score += a.cfg.ImplausibleSpeedRisk
			indicators = append(indicators, IndicatorImplausibleSpeed)
			detections["implausible_speed_risk"] = a.cfg.ImplausibleSpeedRisk
		}
	}

	if score > 100 {
		score = 100
	}

	level, action := a.classify(score)
	return Assessment{
		Score:      score,
		Level:      level,
		Action:     action,
		Blocked:    action == ActionBlocked,
		Spoofed:    score >= a.cfg.FlagAt,
		Indicators: indicators,
		Detections: detections,
	}
}

// speedSince computes km/h between the previous and current sample.
// Returns false when there is no usable previous sample or no elapsed time.
func (a *Analyzer) speedSince(current Sample, prev *Sample) (float64, bool) {
	if prev == nil || prev.At.IsZero() || current.At.IsZero() {
		return 0, false
	}
	elapsed := current.At.Sub(prev.At)
	if elapsed <= 0 {
		return 0, false
	}
	meters := geofence.Distance(prev.Latitude, prev.Longitude, current.Latitude, current.Longitude)
	return (meters / 1000) / elapsed.Hours(), true
}

// classify maps a capped score to level and action.
func (a *Analyzer) classify(score int) (Level, Action) {
	switch {
	case score >= a.cfg.BlockAt:
		return LevelCritical, ActionBlocked
	case score >= a.cfg.FlagAt:
		return LevelHigh, ActionFlagged
	case score >= a.cfg.WarnAt:
		return LevelMedium, ActionWarning
	default:
		return LevelLow, ActionNone
	}
}
