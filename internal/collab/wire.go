package collab

import (
	"encoding/json"
	"fmt"

	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/s4vector"
)

// wireOperation is the JSON shape operations travel in over the
// broadcast transport (the Postgres layer stores the same fields as
// columns instead), matching spec's "Persisted Operation record layout":
// left_s4/right_s4 always present
// as structured 4-tuples (Open Question (a), resolved — see DESIGN.md).
type wireOperation struct {
	Operation  string        `json:"operation"`
	DocumentID string        `json:"document_id"`
	SSN        uint64        `json:"ssn"`
	Sum        uint64        `json:"sum"`
	SID        uint64        `json:"sid"`
	Seq        uint64        `json:"seq"`
	Value      *string       `json:"value,omitempty"`
	Left       *wireAnchor   `json:"left"`
	Right      *wireAnchor   `json:"right"`
}

type wireAnchor struct {
	SSN uint64 `json:"ssn"`
	Sum uint64 `json:"sum"`
	SID uint64 `json:"sid"`
	Seq uint64 `json:"seq"`
}

func toWireAnchor(a rga.Anchor) *wireAnchor {
	if !a.Valid {
		return nil
	}
	return &wireAnchor{SSN: a.S4.SSN, Sum: a.S4.Sum, SID: a.S4.SID, Seq: a.S4.Seq}
}

func fromWireAnchor(w *wireAnchor) rga.Anchor {
	if w == nil {
		return rga.Anchor{}
	}
	return rga.Anchor{Valid: true, S4: s4vector.S4Vector{SSN: w.SSN, Sum: w.Sum, SID: w.SID, Seq: w.Seq}}
}

func encodeOperation(op rga.Operation) ([]byte, error) {
	w := wireOperation{
		DocumentID: op.DocumentID,
		SSN:        op.S4.SSN,
		Sum:        op.S4.Sum,
		SID:        op.S4.SID,
		Seq:        op.S4.Seq,
		Left:       toWireAnchor(op.LeftS4),
		Right:      toWireAnchor(op.RightS4),
	}
	switch op.Kind {
	case rga.KindInsert:
		w.Operation = "Insert"
		v := op.Value
		w.Value = &v
	case rga.KindDelete:
		w.Operation = "Delete"
	}
	return json.Marshal(w)
}

func decodeOperation(data []byte) (rga.Operation, error) {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return rga.Operation{}, fmt.Errorf("decode operation: %w", err)
	}
	op := rga.Operation{
		S4:         s4vector.S4Vector{SSN: w.SSN, Sum: w.Sum, SID: w.SID, Seq: w.Seq},
		DocumentID: w.DocumentID,
		OriginSID:  w.SID,
		LeftS4:     fromWireAnchor(w.Left),
		RightS4:    fromWireAnchor(w.Right),
	}
	switch w.Operation {
	case "Insert":
		op.Kind = rga.KindInsert
		if w.Value != nil {
			op.Value = *w.Value
		}
	case "Delete":
		op.Kind = rga.KindDelete
	default:
		return rga.Operation{}, fmt.Errorf("decode operation: unknown kind %q", w.Operation)
	}
	return op, nil
}
