package attempt

import "testing"

func TestAnswerStoreTiers(t *testing.T) {
	s := NewAnswerStore(map[string]Selection{
		"q1": Single(2),
		"q2": nil,
	})

	if got := s.AnsweredCount(); got != 1 {
		t.Fatalf("seeded answered = %d, want 1", got)
	}
	if s.Dirty("q1") {
		t.Fatal("seeded answers count as persisted")
	}

	s.Set("q1", Single(0))
	if !s.Dirty("q1") {
		t.Fatal("local edit should diverge from persisted")
	}
	if !s.Persisted("q1").Equal(Single(2)) {
		t.Fatalf("persisted = %v", s.Persisted("q1"))
	}

	s.MarkPersisted("q1", Single(0))
	if s.Dirty("q1") {
		t.Fatal("acknowledged edit still dirty")
	}

	s.Set("q1", nil)
	if s.AnsweredCount() != 0 || !s.Local("q1").Empty() {
		t.Fatal("empty selection should clear the answer")
	}
}

func TestAnswerStoreReturnsCopies(t *testing.T) {
	s := NewAnswerStore(nil)
	sel := Single(1)
	s.Set("q1", sel)
	sel[0] = "9"

	got := s.Local("q1")
	got[0] = "7"

	if !s.Local("q1").Equal(Single(1)) {
		t.Fatalf("store aliased caller slices: %v", s.Local("q1"))
	}
	snap := s.Snapshot()
	snap["q1"][0] = "5"
	if !s.Local("q1").Equal(Single(1)) {
		t.Fatal("snapshot aliased store")
	}
}
