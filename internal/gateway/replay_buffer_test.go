package gateway

import "testing"

func TestReplayBuffer_Since(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, "BTCUSDT", []byte("msg"))
	}

	got := rb.Since(6)
	if len(got) != 4 {
		t.Fatalf("Since(6): expected 4, got %d", len(got))
	}
	for i, e := range got {
		if want := int64(i) + 7; e.Seq != want {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, want)
		}
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)

	// 8 pushes into 5 slots evicts seqs 1-3
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, "BTCUSDT", []byte("msg"))
	}

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	got := rb.Since(0)
	if len(got) != 5 {
		t.Fatalf("Since(0): expected 5, got %d", len(got))
	}
	if got[0].Seq != 4 || got[4].Seq != 8 {
		t.Errorf("seqs = %d..%d, want 4..8", got[0].Seq, got[4].Seq)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(10)
	if got := rb.Since(0); len(got) != 0 {
		t.Fatalf("empty buffer Since should return 0, got %d", len(got))
	}
}
