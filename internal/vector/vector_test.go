package vector

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func Test_Vector_PointIDIsDeterministic(t *testing.T) {
	t.Parallel()
	a := PointID("chunk-123")
	b := PointID("chunk-123")
	if a != b {
		t.Fatalf("same chunk id must derive the same point id: %s vs %s", a, b)
	}
	if PointID("chunk-124") == a {
		t.Error("different chunk ids must derive different point ids")
	}
	// Valid UUID shape: 36 chars with hyphens at the usual positions.
	if len(a) != 36 || a[8] != '-' || a[13] != '-' || a[18] != '-' || a[23] != '-' {
		t.Errorf("point id %q is not UUID-shaped", a)
	}
}

func Test_Vector_PayloadRoundTrip(t *testing.T) {
	t.Parallel()
	in := Payload{
		SourceID:    "src-1",
		DocID:       "doc-1",
		ChunkID:     "chunk-1",
		URI:         "https://h/page",
		Modality:    "text",
		Ordinal:     3,
		ContentHash: "abc",
		Title:       "Page",
		Content:     "body text",
	}

	out := payloadFromMap(qdrant.NewValueMap(payloadMap(in)))
	if out != in {
		t.Errorf("payload round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}
