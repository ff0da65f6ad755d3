package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/reqhijack/api/schemas"
)

// -- Program Graph Mock --

// MockProgramGraph mocks the schemas.ProgramGraph and schemas.GraphWriter interfaces.
type MockProgramGraph struct {
	mock.Mock
}

func (m *MockProgramGraph) AddNode(ctx context.Context, node schemas.Node) error {
	return m.Called(ctx, node).Error(0)
}
func (m *MockProgramGraph) AddEdge(ctx context.Context, edge schemas.Edge) error {
	return m.Called(ctx, edge).Error(0)
}
func (m *MockProgramGraph) GetNode(ctx context.Context, id string) (schemas.Node, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return schemas.Node{}, args.Error(1)
	}
	return args.Get(0).(schemas.Node), args.Error(1)
}
func (m *MockProgramGraph) Children(ctx context.Context, id string) ([]schemas.Edge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Edge), args.Error(1)
}
func (m *MockProgramGraph) Parent(ctx context.Context, id string) (schemas.Edge, bool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return schemas.Edge{}, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(schemas.Edge), args.Bool(1), args.Error(2)
}
func (m *MockProgramGraph) FindNodes(ctx context.Context, filter schemas.NodeFilter) ([]schemas.Node, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Node), args.Error(1)
}

// -- Flow Store Mock --

// MockFlowStore mocks the schemas.FlowStore interface.
type MockFlowStore struct {
	mock.Mock
}

// SaveFlowReport provides a mock function for persisting a page report.
func (m *MockFlowStore) SaveFlowReport(ctx context.Context, runID string, report *schemas.FlowReport) error {
	args := m.Called(ctx, runID, report)
	return args.Error(0)
}

// SavePatternStats provides a mock function for persisting categorizer counts.
func (m *MockFlowStore) SavePatternStats(ctx context.Context, runID, slug string, stats *schemas.PatternStats) error {
	args := m.Called(ctx, runID, slug, stats)
	return args.Error(0)
}

var (
	_ schemas.ProgramGraph = (*MockProgramGraph)(nil)
	_ schemas.GraphWriter  = (*MockProgramGraph)(nil)
	_ schemas.FlowStore    = (*MockFlowStore)(nil)
)
