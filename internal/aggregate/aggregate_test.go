package aggregate

import "testing"

func TestParentOf(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/a/b/c", "/a/b"},
		{"/a/b", "/a"},
		{"/a", ""},
		{"", ""},
		{"/a/b/", "/a"},
	}
	for _, c := range cases {
		if got := parentOf(c.in); got != c.want {
			t.Errorf("parentOf(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestKindTotalsAsAggregates(t *testing.T) {
	k := kindTotals{fileCount: 1, fileSize: 100, directoryCount: 2, hardlinkCount: 1, hardlinkSize: 50}
	agg := k.asAggregates()
	if agg.TotalCount != 4 {
		t.Fatalf("TotalCount = %d, want 4", agg.TotalCount)
	}
	if agg.TotalSize != 150 {
		t.Fatalf("TotalSize = %d, want 150", agg.TotalSize)
	}
}
