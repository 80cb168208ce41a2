package model

import "time"

// Priority ranks optimization recommendations.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the ordering of a priority, higher meaning more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	default:
		return 0
	}
}

// Dimension is a resource dimension scored by the optimizer.
type Dimension string

const (
	DimensionCPU     Dimension = "cpu"
	DimensionMemory  Dimension = "memory"
	DimensionCompute Dimension = "compute" // gas / compute-budget
	DimensionStorage Dimension = "storage"
	DimensionNetwork Dimension = "network"
)

// Dimensions lists all scored dimensions in their fixed reporting order.
// The order is part of the contract: recommendation output is ordered by
// priority, then by this declaration order, so identical inputs always
// produce identical output.
var Dimensions = []Dimension{
	DimensionCPU,
	DimensionMemory,
	DimensionCompute,
	DimensionStorage,
	DimensionNetwork,
}

// UtilizationTrend describes how consumption moved across the analyzed
// history.
type UtilizationTrend string

const (
	TrendIncreasing UtilizationTrend = "increasing"
	TrendStable     UtilizationTrend = "stable"
	TrendDecreasing UtilizationTrend = "decreasing"
)

// DimensionUtilization is the efficiency assessment of one resource
// dimension.
type DimensionUtilization struct {
	Dimension       Dimension        `json:"dimension"`
	EfficiencyScore float64          `json:"efficiency_score"` // 0..100
	AvgConsumption  float64          `json:"avg_consumption"`
	PeakConsumption float64          `json:"peak_consumption"`
	Trend           UtilizationTrend `json:"trend"`
	SampleCount     int              `json:"sample_count"`
}

// UtilizationReport scores a subject's resource efficiency per dimension.
// Idempotent: identical metric histories yield identical reports.
type UtilizationReport struct {
	Subject    string                 `json:"subject"`
	Dimensions []DimensionUtilization `json:"dimensions"`

	// OverallEfficiencyScore is the weighted mean of the per-dimension
	// scores, 0..100.
	OverallEfficiencyScore float64 `json:"overall_efficiency_score"`

	GeneratedAt time.Time `json:"generated_at"`
}

// CostBenefit quantifies the economics of applying a recommendation.
// ROIPercent and PaybackDays are nil ("N/A") when estimated savings are not
// positive — that is a report outcome, not an error.
type CostBenefit struct {
	EstimatedSavings   float64  `json:"estimated_savings"`
	ImplementationCost float64  `json:"implementation_cost"`
	ROIPercent         *float64 `json:"roi_percent"`
	PaybackDays        *float64 `json:"payback_days"`
}

// Recommendation is one prioritized optimization suggestion for a dimension
// scoring below the configured efficiency floor.
type Recommendation struct {
	Category            Dimension   `json:"category"`
	Priority            Priority    `json:"priority"`
	EstimatedImpact     float64     `json:"estimated_impact"` // efficiency points recoverable
	Description         string      `json:"description"`
	ImplementationSteps []string    `json:"implementation_steps"`
	CostBenefit         CostBenefit `json:"cost_benefit"`
}
