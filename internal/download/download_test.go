package download

import "testing"

func TestKeyAndObjectKeyFormat(t *testing.T) {
	if got := key("u1", "v1"); got != "u1/v1" {
		t.Fatalf("key = %q", got)
	}
	if got := objectKey("u1", "v1"); got != "sources/u1/v1/source.mp4" {
		t.Fatalf("objectKey = %q", got)
	}
	if got := legacyObjectKey("v1"); got != "legacy/v1.mp4" {
		t.Fatalf("legacyObjectKey = %q", got)
	}
}

func TestDecisionKindValues(t *testing.T) {
	if UseCache == WaitForOther || WaitForOther == PerformDownload || UseCache == PerformDownload {
		t.Fatal("expected three distinct DecisionKind values")
	}
}
