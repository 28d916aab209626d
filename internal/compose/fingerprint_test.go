package compose

import (
	"testing"

	"github.com/nholik/deckhand/internal/service"
)

func TestFingerprint_Stable(t *testing.T) {
	body := []byte("version: '3.9'\nservices:\n  web:\n    image: nginx\n")

	first, err := Fingerprint(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Fingerprint(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable fingerprint")
	}
}

func TestFingerprint_DifferentInputs(t *testing.T) {
	first, err := Fingerprint([]byte("compose: one\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Fingerprint([]byte("compose: two\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected different fingerprints")
	}
}

func TestFingerprint_RejectsEmpty(t *testing.T) {
	if _, err := Fingerprint(nil); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func TestDefinitionFingerprint_ChangesWithDefinition(t *testing.T) {
	def := service.Definition{ID: "api", Name: "api", Image: service.Image{Name: "api", Tag: "1", CommitID: "abcdef1"}}

	first, err := DefinitionFingerprint(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	same, err := DefinitionFingerprint(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != same {
		t.Fatalf("expected stable fingerprint")
	}

	def.TotalInstances = 3
	changed, err := DefinitionFingerprint(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed == first {
		t.Fatalf("expected fingerprint to change with instances")
	}
}
