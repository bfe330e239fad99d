package verify_test

import (
	"context"
	"testing"

	"github.com/MrWong99/voxline/internal/verify"
)

func directory() []verify.Caller {
	return []verify.Caller{
		{ID: "c-001", Name: "Jane Doe"},
		{ID: "c-002", Name: "Robert Fischer"},
		{ID: "c-003", Name: "Amara Okafor"},
	}
}

func TestVerify_ExactName(t *testing.T) {
	t.Parallel()

	v := verify.NewDirectoryVerifier(directory())
	match, ok, err := v.Verify(context.Background(), "Jane Doe")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("ok = false, want match for exact name")
	}
	if match.Caller.ID != "c-001" {
		t.Errorf("Caller.ID = %q, want c-001", match.Caller.ID)
	}
	if match.Confidence < 0.99 {
		t.Errorf("Confidence = %f, want ~1.0 for exact match", match.Confidence)
	}
}

func TestVerify_TranscribedVariant(t *testing.T) {
	t.Parallel()

	v := verify.NewDirectoryVerifier(directory())

	// Transcription renders "Doe" as "dough"; phonetics should still align.
	match, ok, err := v.Verify(context.Background(), "jane dough")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("ok = false, want phonetic match")
	}
	if match.Caller.ID != "c-001" {
		t.Errorf("Caller.ID = %q, want c-001", match.Caller.ID)
	}
}

func TestVerify_UnknownName(t *testing.T) {
	t.Parallel()

	v := verify.NewDirectoryVerifier(directory())
	_, ok, err := v.Verify(context.Background(), "Zebulon Quartz")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("ok = true, want no match for unknown name")
	}
}

func TestVerify_EmptyInputs(t *testing.T) {
	t.Parallel()

	v := verify.NewDirectoryVerifier(directory())
	if _, ok, _ := v.Verify(context.Background(), "   "); ok {
		t.Error("blank claimed name must not match")
	}

	empty := verify.NewDirectoryVerifier(nil)
	if _, ok, _ := empty.Verify(context.Background(), "Jane Doe"); ok {
		t.Error("empty directory must not match")
	}
}

func TestVerify_PicksBestOfMultipleCandidates(t *testing.T) {
	t.Parallel()

	v := verify.NewDirectoryVerifier([]verify.Caller{
		{ID: "c-010", Name: "Jon Smith"},
		{ID: "c-011", Name: "John Smythe"},
	})
	match, ok, err := v.Verify(context.Background(), "john smith")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("ok = false, want a match")
	}
	if match.Caller.ID != "c-010" {
		t.Errorf("Caller.ID = %q, want c-010 (higher similarity)", match.Caller.ID)
	}
}
