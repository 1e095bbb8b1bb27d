package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldValueTreatsNullAsAbsent(t *testing.T) {
	record := OrderRecord{"a": nil, "b": 0, "c": ""}

	_, ok := FieldValue(record, "a")
	assert.False(t, ok)
	_, ok = FieldValue(record, "missing")
	assert.False(t, ok)

	v, ok := FieldValue(record, "b")
	assert.True(t, ok)
	assert.Equal(t, 0, v)

	v, ok = FieldValue(record, "c")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestFirstNonEmpty(t *testing.T) {
	record := OrderRecord{"a": "  ", "b": nil, "c": " value "}
	assert.Equal(t, "value", FirstNonEmpty(record, []string{"a", "b", "c"}))
	assert.Equal(t, "", FirstNonEmpty(record, []string{"a", "b"}))
	assert.Equal(t, "", FirstNonEmpty(nil, []string{"a"}))
}

func TestFindKeycrmOrderID(t *testing.T) {
	assert.Equal(t, 5, FindKeycrmOrderID(OrderRecord{"id": 5, "order_id": 6}))
	assert.Equal(t, 6, FindKeycrmOrderID(OrderRecord{"order_id": 6}))
	assert.Equal(t, "7", FindKeycrmOrderID(OrderRecord{"orderId": "7"}))
	assert.Nil(t, FindKeycrmOrderID(OrderRecord{"number": "8"}))
	assert.Nil(t, FindKeycrmOrderID(nil))
}

func TestPayloadOrderCandidate(t *testing.T) {
	t.Run("order member", func(t *testing.T) {
		payload := OrderRecord{"order": map[string]interface{}{"id": 1}}
		candidate := PayloadOrderCandidate(payload)
		require.NotNil(t, candidate)
		assert.Equal(t, 1, candidate["id"])
	})

	t.Run("data.order member", func(t *testing.T) {
		payload := OrderRecord{"data": map[string]interface{}{
			"order": map[string]interface{}{"id": 2},
		}}
		assert.Equal(t, 2, PayloadOrderCandidate(payload)["id"])
	})

	t.Run("data member", func(t *testing.T) {
		payload := OrderRecord{"data": map[string]interface{}{"id": 3}}
		assert.Equal(t, 3, PayloadOrderCandidate(payload)["id"])
	})

	t.Run("payload itself", func(t *testing.T) {
		payload := OrderRecord{"id": 4}
		assert.Equal(t, 4, PayloadOrderCandidate(payload)["id"])
	})
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, "42.5", Stringify(42.5))
	assert.Equal(t, "text", Stringify("text"))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "", Stringify(nil))
}

func TestAsRecord(t *testing.T) {
	rec, ok := AsRecord(map[string]interface{}{"id": 1})
	assert.True(t, ok)
	assert.Equal(t, 1, rec["id"])

	_, ok = AsRecord("not a map")
	assert.False(t, ok)
	_, ok = AsRecord(nil)
	assert.False(t, ok)
}
