package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/s4vector"
)

func TestEncodeDecodeInsertRoundTrip(t *testing.T) {
	op := rga.Operation{
		Kind:       rga.KindInsert,
		S4:         s4vector.S4Vector{SSN: 1, Sum: 2, SID: 3, Seq: 4},
		Value:      "x",
		LeftS4:     rga.Anchor{Valid: true, S4: s4vector.S4Vector{SSN: 1, Sum: 1, SID: 1, Seq: 1}},
		RightS4:    rga.Anchor{}, // sentinel boundary
		DocumentID: "doc",
		OriginSID:  3,
	}

	data, err := encodeOperation(op)
	require.NoError(t, err)

	decoded, err := decodeOperation(data)
	require.NoError(t, err)

	assert.Equal(t, op.Kind, decoded.Kind)
	assert.Equal(t, op.S4, decoded.S4)
	assert.Equal(t, op.Value, decoded.Value)
	assert.Equal(t, op.LeftS4, decoded.LeftS4)
	assert.True(t, op.RightS4.Valid == decoded.RightS4.Valid)
	assert.Equal(t, op.DocumentID, decoded.DocumentID)
}

func TestEncodeDecodeDeleteRoundTrip(t *testing.T) {
	op := rga.Operation{
		Kind:       rga.KindDelete,
		S4:         s4vector.S4Vector{SSN: 1, Sum: 5, SID: 2, Seq: 9},
		DocumentID: "doc",
		OriginSID:  2,
	}

	data, err := encodeOperation(op)
	require.NoError(t, err)

	decoded, err := decodeOperation(data)
	require.NoError(t, err)

	assert.Equal(t, rga.KindDelete, decoded.Kind)
	assert.Equal(t, op.S4, decoded.S4)
	assert.Empty(t, decoded.Value)
}

func TestDecodeUnknownOperationKindErrors(t *testing.T) {
	_, err := decodeOperation([]byte(`{"operation":"Update"}`))
	assert.Error(t, err)
}
