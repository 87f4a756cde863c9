package data

import (
	"testing"
)

// FuzzJSONToRecord tests the JSON to Arrow conversion with random inputs.
// Run with: go test -fuzz=FuzzJSONToRecord -fuzztime=30s ./data/
func FuzzJSONToRecord(f *testing.F) {
	// Seed corpus with valid inputs
	f.Add([]byte(`{"columns":[{"name":"a","values":[1,2,null]}]}`))
	f.Add([]byte(`{"columns":[{"name":"c","levels":["x","y"],"codes":[0,1,null]}]}`))
	f.Add([]byte(`{"columns":[{"name":"a","values":[1]},{"name":"b","values":[1,2]}]}`))
	f.Add([]byte(`{"columns":[]}`))

	// Add some malformed inputs
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"columns":[{"name":"c","levels":["x"],"codes":[5]}]}`))
	f.Add([]byte(`[1,2,3]`))

	c := NewConverter()

	f.Fuzz(func(t *testing.T, data []byte) {
		// The function should not panic regardless of input
		record, err := c.JSONToRecord(data)
		if err == nil && record != nil {
			// If conversion succeeded, the record must load as a frame
			if _, ferr := FrameFromRecord(record); ferr != nil {
				t.Errorf("FrameFromRecord failed on converted record: %v", ferr)
			}
			record.Release()
		}
	})
}

func TestConverterMatrixToJSON(t *testing.T) {
	m, err := NewMatrix([]string{"a", "b"}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("NewMatrix failed: %v", err)
	}
	m.Set(0, 0, 1)
	m.Set(1, 1, 1)
	m.Set(0, 1, 0.5)

	out, err := NewConverter().MatrixToJSON(m)
	if err != nil {
		t.Fatalf("MatrixToJSON failed: %v", err)
	}

	expected := `{"rows":["a","b"],"columns":["a","b"],"values":[[1,0.5],[null,1]]}`
	if string(out) != expected {
		t.Errorf("Expected %s, got %s", expected, out)
	}
}
