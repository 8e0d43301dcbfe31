package session

import "testing"

func TestNewerID(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		reference string
		want      bool
	}{
		{"empty reference accepts anything", "msg_abc", "", true},
		{"empty candidate never newer", "", "msg_abc", false},
		{"lexicographically greater", "msg_b", "msg_a", true},
		{"lexicographically smaller", "msg_a", "msg_b", false},
		{"equal ids are not newer", "msg_a", "msg_a", false},
		{"prefix is stripped before compare", "msg_b", "part_a", true},
		{"different lengths treated as newer", "msg_abc", "msg_ab", true},
		{"shorter candidate still newer on length mismatch", "msg_ab", "msg_abc", true},
		{"no prefix on candidate", "zzz", "msg_aaa", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewerID(tt.candidate, tt.reference); got != tt.want {
				t.Fatalf("NewerID(%q, %q) = %v, want %v", tt.candidate, tt.reference, got, tt.want)
			}
		})
	}
}

func TestNewerIDOrderIsUsableAsFloor(t *testing.T) {
	// A watermark must reject everything at or below itself and accept
	// everything above, for ids minted in sequence.
	ids := []string{"msg_0001", "msg_0002", "msg_0003", "msg_0004"}
	floor := ids[1]
	for i, id := range ids {
		got := NewerID(id, floor)
		want := i > 1
		if got != want {
			t.Errorf("NewerID(%q, %q) = %v, want %v", id, floor, got, want)
		}
	}
}
