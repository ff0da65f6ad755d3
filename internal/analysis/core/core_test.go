package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBaseAnalyzer(t *testing.T) {
	t.Parallel()
	zapCore, logs := observer.New(zap.InfoLevel)

	b := NewBaseAnalyzer("Reporter", "renders taint flows", StageAnalyze, zap.New(zapCore))
	b.Logger.Info("hello")

	assert.Equal(t, "Reporter", b.Name())
	assert.Equal(t, "renders taint flows", b.Description())
	assert.Equal(t, StageAnalyze, b.Stage())
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "Reporter", entries[0].LoggerName)
	}

	assert.NotPanics(t, func() { NewBaseAnalyzer("x", "", StageDetect, nil).Logger.Info("nop") })
}

func TestSemanticSet(t *testing.T) {
	t.Parallel()
	s := SemanticSet{}
	s.Add(ReadWinLocation, ReadCookie, ReadWinLocation)
	assert.Equal(t, []SemanticType{ReadCookie, ReadWinLocation}, s.Sorted())
	assert.Equal(t, []string{"RD_COOKIE", "RD_WIN_LOC"}, Strings(s.Sorted()))
}

func TestSemanticTypeValid(t *testing.T) {
	t.Parallel()
	for _, st := range SemanticTypes {
		assert.True(t, st.Valid(), st)
	}
	assert.False(t, SemanticType("RD_SOMETHING").Valid())
}
