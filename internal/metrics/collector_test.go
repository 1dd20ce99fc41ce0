package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_RegistersWithoutPanic(t *testing.T) {
	c := NewCollector("idea2paper_test_a")
	require.NotNil(t, c)
}

func TestNewCollector_DefaultNamespaceWhenEmpty(t *testing.T) {
	c := NewCollector("")
	require.NotNil(t, c)
}

func TestCollector_ObserveStage(t *testing.T) {
	c := NewCollector("idea2paper_test_b")
	assert.NotPanics(t, func() {
		c.ObserveStage("recall", 250*time.Millisecond, "success")
		c.ObserveStage("recall", 10*time.Second, "error")
	})
}

func TestCollector_RecordLLMCall(t *testing.T) {
	c := NewCollector("idea2paper_test_c")
	assert.NotPanics(t, func() {
		c.RecordLLMCall("critic_methodologist", "success", 512, 128)
	})
}

func TestCollector_RecordEmbedCall(t *testing.T) {
	c := NewCollector("idea2paper_test_d")
	assert.NotPanics(t, func() {
		c.RecordEmbedCall("success")
	})
}

func TestCollector_RefinementCounters(t *testing.T) {
	c := NewCollector("idea2paper_test_e")
	assert.NotPanics(t, func() {
		c.RecordRefineRound()
		c.RecordRollback()
		c.RecordNoveltyPivot()
		c.RecordNoveltyCollision()
	})
}

func TestCollector_RecordCriticScore(t *testing.T) {
	c := NewCollector("idea2paper_test_f")
	assert.NotPanics(t, func() {
		c.RecordCriticScore("critic_theorist", 7.5)
	})
}
