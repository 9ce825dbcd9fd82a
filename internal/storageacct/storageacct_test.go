package storageacct

import "testing"

func TestWouldExceedQuota(t *testing.T) {
	cases := []struct {
		name                       string
		current, estimated, limit int64
		want                       bool
	}{
		{"well under limit", 0, EstimatedClipBytes, 5 << 30, false},
		{"exactly at limit", 5<<30 - EstimatedClipBytes, EstimatedClipBytes, 5 << 30, false},
		{"ten MiB under estimate", 5<<30 - 10<<20, EstimatedClipBytes, 5 << 30, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := wouldExceedQuota(c.current, c.estimated, c.limit); got != c.want {
				t.Fatalf("wouldExceedQuota(%d,%d,%d) = %v, want %v", c.current, c.estimated, c.limit, got, c.want)
			}
		})
	}
}

func TestEstimatedClipBytesIs50MiB(t *testing.T) {
	if EstimatedClipBytes != 50<<20 {
		t.Fatalf("expected 50 MiB estimate, got %d", EstimatedClipBytes)
	}
}
