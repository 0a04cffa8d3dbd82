package pipeline

import (
	"context"
	"testing"
)

func seedCompleteWarehouse(t *testing.T) *fakeSink {
	t.Helper()
	sink := newFakeSink()
	r := testRunner(sink, testSnapshot())
	if err := r.Run(context.Background(), testConfig(), false); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	return sink
}

func TestProbeStates(t *testing.T) {
	ctx := context.Background()
	th := Thresholds{MinRiskTypes: 1}

	t.Run("virgin warehouse", func(t *testing.T) {
		st, err := Probe(ctx, newFakeSink(), th)
		if err != nil {
			t.Fatalf("Probe: %v", err)
		}
		if st.State() != NeedAll {
			t.Fatalf("state = %s, want NEED_ALL", st.State())
		}
	})

	t.Run("missing catalog wins over missing facts", func(t *testing.T) {
		sink := seedCompleteWarehouse(t)
		if err := sink.Truncate(ctx, "subdim_month", "fact_projects"); err != nil {
			t.Fatal(err)
		}
		st, _ := Probe(ctx, sink, th)
		if st.State() != NeedAll {
			t.Fatalf("state = %s, want NEED_ALL", st.State())
		}
	})

	t.Run("empty principal dimension", func(t *testing.T) {
		sink := seedCompleteWarehouse(t)
		if err := sink.Truncate(ctx, "dim_project"); err != nil {
			t.Fatal(err)
		}
		st, _ := Probe(ctx, sink, th)
		if st.State() != NeedDimensions {
			t.Fatalf("state = %s, want NEED_DIMENSIONS", st.State())
		}
	})

	t.Run("risk type threshold", func(t *testing.T) {
		sink := seedCompleteWarehouse(t)
		st, _ := Probe(ctx, sink, Thresholds{MinRiskTypes: 50})
		if st.State() != NeedAll {
			t.Fatalf("state = %s, want NEED_ALL under a higher threshold", st.State())
		}
	})

	t.Run("complete", func(t *testing.T) {
		sink := seedCompleteWarehouse(t)
		st, _ := Probe(ctx, sink, th)
		if st.State() != Complete {
			t.Fatalf("state = %s, want COMPLETE\n%s", st.State(), st.Summary())
		}
	})
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Complete:       "COMPLETE",
		NeedFacts:      "NEED_FACTS",
		NeedDimensions: "NEED_DIMENSIONS",
		NeedAll:        "NEED_ALL",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(state), got, want)
		}
	}
}
