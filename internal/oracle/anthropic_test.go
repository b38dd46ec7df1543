package oracle

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_EmptyBodyShortCircuits(t *testing.T) {
	// no client needed: empty bodies never reach the API
	c := &AnthropicClassifier{}

	cls, err := c.Classify(context.Background(), Request{Body: "   \n\t "})
	require.NoError(t, err)
	assert.Equal(t, CategoryOther, cls.Category)
	assert.Zero(t, cls.Confidence)
	assert.Nil(t, cls.WorkOrderID)
}

func TestBuildUserPrompt(t *testing.T) {
	unit := "4B"
	prompt, err := buildUserPrompt("done with the sink", []Candidate{
		{ID: "wo-1", Summary: "kitchen sink leak", Status: "in_progress", UnitLabel: &unit},
	}, []ConversationMessage{
		{SenderRole: "landlord", Body: "any update on the sink?"},
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "Vendor SMS:\ndone with the sink")
	assert.Contains(t, prompt, `"id": "wo-1"`)
	assert.Contains(t, prompt, `"unit_label": "4B"`)
	assert.Contains(t, prompt, "any update on the sink?")
}

func TestBuildUserPrompt_NilSlices(t *testing.T) {
	prompt, err := buildUserPrompt("hello", nil, nil)
	require.NoError(t, err)
	// empty arrays, not JSON null
	assert.Contains(t, prompt, "Candidate work orders (JSON array):\n[]")
	assert.Contains(t, prompt, "most recent last):\n[]")
}

func TestDecodeClassification(t *testing.T) {
	t.Run("well formed", func(t *testing.T) {
		raw := json.RawMessage(`{
			"category": "completion",
			"confidence": 0.92,
			"reasoning": "vendor says work is done",
			"work_order_id": "wo-1",
			"work_order_confidence": 0.8
		}`)
		cls, err := decodeClassification(raw)
		require.NoError(t, err)
		assert.Equal(t, CategoryCompletion, cls.Category)
		require.NotNil(t, cls.WorkOrderID)
		assert.Equal(t, "wo-1", *cls.WorkOrderID)
		assert.InDelta(t, 0.8, cls.WorkOrderConfidence, 1e-9)
	})

	t.Run("null work order", func(t *testing.T) {
		raw := json.RawMessage(`{"category":"confirmation","confidence":0.7,"reasoning":"","work_order_id":null,"work_order_confidence":0}`)
		cls, err := decodeClassification(raw)
		require.NoError(t, err)
		assert.Equal(t, CategoryConfirmation, cls.Category)
		assert.Nil(t, cls.WorkOrderID)
	})

	t.Run("unknown category degrades", func(t *testing.T) {
		raw := json.RawMessage(`{"category":"invoice","confidence":0.9,"reasoning":"","work_order_id":null,"work_order_confidence":0.2}`)
		cls, err := decodeClassification(raw)
		require.NoError(t, err)
		assert.Equal(t, CategoryOther, cls.Category)
		assert.Equal(t, "Unexpected classification format", cls.Reasoning)
	})

	t.Run("invalid json errors", func(t *testing.T) {
		_, err := decodeClassification(json.RawMessage(`not json`))
		assert.Error(t, err)
	})
}

func TestDegraded(t *testing.T) {
	cls := Degraded("boom")
	assert.Equal(t, CategoryOther, cls.Category)
	assert.Zero(t, cls.Confidence)
	assert.Equal(t, "boom", cls.Reasoning)
	assert.Nil(t, cls.WorkOrderID)
	assert.Zero(t, cls.WorkOrderConfidence)
}
