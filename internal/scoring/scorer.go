package scoring

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/audioforge/orchestrator/internal/model"
	"github.com/audioforge/orchestrator/internal/storage"
)

// Weights control the blend of the three score components
type Weights struct {
	SuccessRate   float64
	Latency       float64
	ResourceUsage float64
}

// Config defines scorer tuning knobs
type Config struct {
	TimeWindow  time.Duration // records older than this are pruned
	MinSamples  int           // below this many records the score is 0
	DecayFactor float64       // per-day multiplicative decay
	Weights     Weights
}

// DefaultConfig returns the default scorer configuration
func DefaultConfig() Config {
	return Config{
		TimeWindow:  7 * 24 * time.Hour,
		MinSamples:  5,
		DecayFactor: 0.95,
		Weights: Weights{
			SuccessRate:   0.5,
			Latency:       0.3,
			ResourceUsage: 0.2,
		},
	}
}

type scoreKey struct {
	modelID    string
	capability model.Capability
}

// capabilityData holds the record sequence for one model/capability pair.
// Owned exclusively by the scorer.
type capabilityData struct {
	records     []model.PerformanceRecord
	lastUpdated time.Time
}

// Scorer tracks per-model, per-capability historical performance and
// produces a decayed aggregate score in [0,1]. Absent data yields 0.
type Scorer struct {
	logger  *zap.Logger
	config  Config
	history storage.PerformanceHistory

	mu   sync.Mutex
	data map[scoreKey]*capabilityData

	now func() time.Time
}

// NewScorer creates a capability scorer. history may be nil to disable
// persistence.
func NewScorer(config Config, history storage.PerformanceHistory, logger *zap.Logger) *Scorer {
	if config.MinSamples <= 0 {
		config.MinSamples = DefaultConfig().MinSamples
	}
	if config.TimeWindow <= 0 {
		config.TimeWindow = DefaultConfig().TimeWindow
	}
	if config.DecayFactor <= 0 || config.DecayFactor > 1 {
		config.DecayFactor = DefaultConfig().DecayFactor
	}

	return &Scorer{
		logger:  logger.Named("capability-scorer"),
		config:  config,
		history: history,
		data:    make(map[scoreKey]*capabilityData),
		now:     time.Now,
	}
}

// WarmStart reloads persisted records that still fall inside the time
// window. No-op when persistence is disabled.
func (s *Scorer) WarmStart(ctx context.Context) error {
	if s.history == nil {
		return nil
	}

	cutoff := s.now().Add(-s.config.TimeWindow)
	stored, err := s.history.LoadSince(ctx, cutoff)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range stored {
		data := s.dataFor(rec.ModelID, rec.Capability)
		data.records = append(data.records, rec.Record)
		if rec.Record.Timestamp.After(data.lastUpdated) {
			data.lastUpdated = rec.Record.Timestamp
		}
	}

	s.logger.Info("Warm-started capability scorer",
		zap.Int("records", len(stored)))
	return nil
}

// RecordSuccess records a successful task execution
func (s *Scorer) RecordSuccess(modelID string, capability model.Capability, latency time.Duration, resourceUsage float64) {
	s.record(modelID, capability, model.PerformanceRecord{
		Success:       true,
		Latency:       latency,
		ResourceUsage: resourceUsage,
		Timestamp:     s.now(),
	})
}

// RecordFailure records a failed task execution
func (s *Scorer) RecordFailure(modelID string, capability model.Capability, latency time.Duration, resourceUsage float64) {
	s.record(modelID, capability, model.PerformanceRecord{
		Success:       false,
		Latency:       latency,
		ResourceUsage: resourceUsage,
		Timestamp:     s.now(),
	})
}

func (s *Scorer) record(modelID string, capability model.Capability, rec model.PerformanceRecord) {
	s.mu.Lock()
	data := s.dataFor(modelID, capability)
	data.records = append(data.records, rec)
	data.lastUpdated = rec.Timestamp
	s.pruneLocked(data)
	s.mu.Unlock()

	if s.history != nil {
		if err := s.history.Store(context.Background(), modelID, capability, rec); err != nil {
			s.logger.Warn("Failed to persist performance record",
				zap.String("model_id", modelID),
				zap.String("capability", string(capability)),
				zap.Error(err))
		}
	}
}

// CapabilityScore returns the decayed aggregate score for a
// model/capability pair. Never errors; unknown pairs score 0.
func (s *Scorer) CapabilityScore(modelID string, capability model.Capability) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.data[scoreKey{modelID, capability}]
	if !ok {
		return 0
	}
	s.pruneLocked(data)
	return s.scoreLocked(data)
}

// ModelScores returns all capability scores for a model plus aggregate
// performance metrics across capabilities.
func (s *Scorer) ModelScores(modelID string) model.ModelScoreReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := model.ModelScoreReport{
		ModelID:      modelID,
		Capabilities: make(map[model.Capability]float64),
	}

	var (
		total     int
		successes int
		latency   time.Duration
		usage     float64
	)

	for key, data := range s.data {
		if key.modelID != modelID {
			continue
		}
		s.pruneLocked(data)
		report.Capabilities[key.capability] = s.scoreLocked(data)

		for _, rec := range data.records {
			total++
			if rec.Success {
				successes++
			}
			latency += rec.Latency
			usage += rec.ResourceUsage
		}
		if data.lastUpdated.After(report.Metrics.LastUpdated) {
			report.Metrics.LastUpdated = data.lastUpdated
		}
	}

	report.Metrics.SampleCount = total
	if total > 0 {
		report.Metrics.SuccessRate = float64(successes) / float64(total)
		report.Metrics.AverageLatency = latency / time.Duration(total)
		report.Metrics.AverageUsage = usage / float64(total)
	}

	return report
}

// RankModels orders candidate models by their score for the capability,
// highest first. Candidates that do not advertise the capability are
// skipped.
func (s *Scorer) RankModels(capability model.Capability, candidates []model.ModelType) []model.RankedModel {
	ranked := make([]model.RankedModel, 0, len(candidates))
	for _, m := range candidates {
		if !m.HasCapability(capability) {
			continue
		}
		ranked = append(ranked, model.RankedModel{
			Model: m,
			Score: s.CapabilityScore(m.ID, capability),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// dataFor returns (creating if needed) the record sequence for a pair.
// Caller must hold the mutex.
func (s *Scorer) dataFor(modelID string, capability model.Capability) *capabilityData {
	key := scoreKey{modelID, capability}
	data, ok := s.data[key]
	if !ok {
		data = &capabilityData{}
		s.data[key] = data
	}
	return data
}

// pruneLocked drops records older than the time window
func (s *Scorer) pruneLocked(data *capabilityData) {
	cutoff := s.now().Add(-s.config.TimeWindow)
	kept := data.records[:0]
	for _, rec := range data.records {
		if !rec.Timestamp.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	data.records = kept
}

// scoreLocked computes the aggregate score from the most recent
// MinSamples records
func (s *Scorer) scoreLocked(data *capabilityData) float64 {
	if len(data.records) < s.config.MinSamples {
		return 0
	}

	recent := data.records[len(data.records)-s.config.MinSamples:]

	var (
		successes  int
		sumLatency float64
		sumUsage   float64
	)
	for _, rec := range recent {
		if rec.Success {
			successes++
		}
		sumLatency += float64(rec.Latency.Milliseconds())
		sumUsage += rec.ResourceUsage
	}

	n := float64(len(recent))
	avgLatency := sumLatency / n
	avgUsage := sumUsage / n

	successRate := float64(successes) / n
	latencyScore := math.Max(0, 1-math.Pow(avgLatency/500, 1.5))
	resourceScore := math.Max(0, 1-avgUsage*avgUsage)

	raw := successRate*s.config.Weights.SuccessRate +
		latencyScore*s.config.Weights.Latency +
		resourceScore*s.config.Weights.ResourceUsage

	// Severe degradation penalty
	if avgLatency > 800 || avgUsage > 0.8 {
		raw *= 0.5
	}

	days := s.now().Sub(data.lastUpdated).Hours() / 24
	if days > 0 {
		raw *= math.Pow(s.config.DecayFactor, days)
	}

	return math.Max(0, math.Min(1, raw))
}
