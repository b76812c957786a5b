package model

import "time"

// Capability identifies a class of work a model can perform
type Capability string

const (
	CapabilityTranscription     Capability = "transcription"
	CapabilityAudioAnalysis     Capability = "audio-analysis"
	CapabilityFeatureExtraction Capability = "feature-extraction"
	CapabilityAudioGeneration   Capability = "audio-generation"
	CapabilityTextUnderstanding Capability = "text-understanding"
	CapabilityPlanning          Capability = "planning"
)

// PerformanceRecord captures the outcome of a single task execution.
// Records are immutable once created.
type PerformanceRecord struct {
	Success       bool          `json:"success"`
	Latency       time.Duration `json:"latency"`
	ResourceUsage float64       `json:"resource_usage"`
	Timestamp     time.Time     `json:"timestamp"`
}

// PerformanceMetrics summarizes the surviving records for a model/capability pair
type PerformanceMetrics struct {
	SampleCount    int           `json:"sample_count"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency"`
	AverageUsage   float64       `json:"average_usage"`
	LastUpdated    time.Time     `json:"last_updated"`
}

// ModelScoreReport holds per-capability scores and aggregate metrics for a model
type ModelScoreReport struct {
	ModelID      string                 `json:"model_id"`
	Capabilities map[Capability]float64 `json:"capabilities"`
	Metrics      PerformanceMetrics     `json:"performance_metrics"`
}

// RankedModel pairs a model with its score for a capability
type RankedModel struct {
	Model ModelType `json:"model"`
	Score float64   `json:"score"`
}
