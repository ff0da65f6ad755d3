package core

import (
	"go.uber.org/zap"
)

// Stage identifies which part of the pipeline a component belongs to.
type Stage string

const (
	// StageDetect components locate sinks in a program graph.
	StageDetect Stage = "DETECT"
	// StageAnalyze components resolve and classify the values reaching sinks.
	StageAnalyze Stage = "ANALYZE"
	// StageCategorize components map recorded taint flows to structural patterns.
	StageCategorize Stage = "CATEGORIZE"
)

// BaseAnalyzer carries the identity shared by every pipeline component. It is intended to be
// embedded so that components get a consistently named logger.
type BaseAnalyzer struct {
	name        string
	description string
	stage       Stage
	Logger      *zap.Logger // Exposed for use in specific component implementations.
}

// NewBaseAnalyzer creates a BaseAnalyzer with a sub-logger named after the component.
func NewBaseAnalyzer(name, description string, stage Stage, logger *zap.Logger) *BaseAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseAnalyzer{
		name:        name,
		description: description,
		stage:       stage,
		Logger:      logger.Named(name),
	}
}

// Name returns the component's name.
func (b *BaseAnalyzer) Name() string {
	return b.name
}

// Description returns the component's description.
func (b *BaseAnalyzer) Description() string {
	return b.description
}

// Stage returns the pipeline stage of the component.
func (b *BaseAnalyzer) Stage() Stage {
	return b.stage
}
