package wire

import "testing"

func TestEncodeDecodeZstdJSON_RoundTrips(t *testing.T) {
	original := LibraryResponse{Version: 7, TotalActive: 42, PrunedIDs: []string{"a", "b"}}

	raw, err := EncodeZstdJSON(original)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	var got LibraryResponse
	if err := DecodeZstdJSON(raw, &got); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got.Version != 7 || got.TotalActive != 42 || len(got.PrunedIDs) != 2 {
		t.Fatalf("expected round-tripped values, got %+v", got)
	}
}

func TestDecodeZstdJSON_RejectsGarbage(t *testing.T) {
	var got LibraryResponse
	if err := DecodeZstdJSON([]byte("not zstd data"), &got); err == nil {
		t.Fatal("expected error decoding non-zstd input")
	}
}
