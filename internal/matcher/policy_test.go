package matcher

import (
	"reflect"
	"testing"
)

func TestApply_Longest(t *testing.T) {
	tr := New[int]()
	tr.Insert("new", 1)
	tr.Insert("new york", 2)
	tr.Insert("york city", 3)
	tr.Insert("city", 4)

	got := spans(Apply(PolicyLongest, tr.FindAllMatches("new york city")))
	want := []span{{"new york", 0, 8}, {"city", 9, 13}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("longest = %+v, want %+v", got, want)
	}
}

func TestApply_AllKeepsNested(t *testing.T) {
	tr := New[int]()
	tr.Insert("new", 1)
	tr.Insert("new york", 2)

	got := Apply(PolicyAll, tr.FindAllMatches("new york"))
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Term != "new york" {
		t.Errorf("first = %q, want longer span first", got[0].Term)
	}
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{"": PolicyAll, "all": PolicyAll, "longest": PolicyLongest}
	for in, want := range cases {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("shortest"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestRegistry_RefreshAndUnregister(t *testing.T) {
	r := NewRegistry()
	var calls []string
	unA := r.Register("a", func(reason string) { calls = append(calls, "a:"+reason) })
	r.Register("b", func(reason string) { calls = append(calls, "b:"+reason) })

	r.Refresh("added")
	unA()
	unA()
	r.Refresh("deleted")

	want := []string{"a:added", "b:added", "b:deleted"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if names := r.Names(); !reflect.DeepEqual(names, []string{"b"}) {
		t.Errorf("names = %v", names)
	}
}
