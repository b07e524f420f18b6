package audit

import (
	"testing"
)

func TestStableJSONSortsKeys(t *testing.T) {
	t.Parallel()

	a, err := StableJSON(map[string]any{"b": 1, "a": "x", "c": []any{true, nil}})
	if err != nil {
		t.Fatalf("StableJSON: %v", err)
	}
	want := `{"a":"x","b":1,"c":[true,null]}`
	if a != want {
		t.Errorf("got %s, want %s", a, want)
	}
}

func TestStableJSONDeterministic(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"tool":    "delete_file",
		"nested":  map[string]any{"z": 1.5, "a": []string{"p", "q"}},
		"allowed": false,
	}
	first, err := StableJSON(payload)
	if err != nil {
		t.Fatalf("StableJSON: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := StableJSON(payload)
		if err != nil {
			t.Fatalf("StableJSON: %v", err)
		}
		if again != first {
			t.Fatalf("serialization not stable: %s vs %s", again, first)
		}
	}
}

func TestStableJSONRejectsNonFinite(t *testing.T) {
	t.Parallel()

	if _, err := StableJSON(map[string]any{"x": nan()}); err == nil {
		t.Error("expected error for NaN")
	}
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}

func TestComputeHashChangesWithAnyInput(t *testing.T) {
	t.Parallel()

	base, err := ComputeHash("local", 1, GenesisPrevHash, "tool_execution_blocked", map[string]any{"tool": "read"})
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}

	variants := []struct {
		name      string
		tenant    string
		seq       int64
		prev      string
		eventType string
		data      map[string]any
	}{
		{"tenant", "other", 1, GenesisPrevHash, "tool_execution_blocked", map[string]any{"tool": "read"}},
		{"seq", "local", 2, GenesisPrevHash, "tool_execution_blocked", map[string]any{"tool": "read"}},
		{"prev", "local", 1, base, "tool_execution_blocked", map[string]any{"tool": "read"}},
		{"event", "local", 1, GenesisPrevHash, "policy_decision_resolved", map[string]any{"tool": "read"}},
		{"data", "local", 1, GenesisPrevHash, "tool_execution_blocked", map[string]any{"tool": "write"}},
	}
	for _, tc := range variants {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, err := ComputeHash(tc.tenant, tc.seq, tc.prev, tc.eventType, tc.data)
			if err != nil {
				t.Fatalf("ComputeHash: %v", err)
			}
			if h == base {
				t.Error("hash did not change")
			}
		})
	}
}

func chainEntries(t *testing.T, tenant string, events []string) []Entry {
	t.Helper()
	entries := make([]Entry, 0, len(events))
	prev := GenesisPrevHash
	for i, ev := range events {
		seq := int64(i + 1)
		data := map[string]any{"n": i}
		hash, err := ComputeHash(tenant, seq, prev, ev, data)
		if err != nil {
			t.Fatalf("ComputeHash: %v", err)
		}
		entries = append(entries, Entry{
			TenantID:  tenant,
			Seq:       seq,
			EventType: ev,
			Data:      data,
			PrevHash:  prev,
			Hash:      hash,
		})
		prev = hash
	}
	return entries
}

func TestVerifyEntriesValidChain(t *testing.T) {
	t.Parallel()

	entries := chainEntries(t, "local", []string{
		EventToolExecutionBlocked,
		EventPolicyDecisionResolved,
		EventAdapterTraceIngested,
	})
	res := VerifyEntries("local", entries)
	if !res.Verified {
		t.Errorf("chain should verify, first bad seq %d", res.FirstBadSeq)
	}
	if res.Entries != 3 {
		t.Errorf("entries = %d, want 3", res.Entries)
	}
}

func TestVerifyEntriesDetectsTamper(t *testing.T) {
	t.Parallel()

	entries := chainEntries(t, "local", []string{
		EventToolExecutionBlocked,
		EventPolicyDecisionResolved,
		EventAdapterTraceIngested,
	})
	entries[1].Data["n"] = 99

	res := VerifyEntries("local", entries)
	if res.Verified {
		t.Fatal("tampered chain verified")
	}
	if res.FirstBadSeq != 2 {
		t.Errorf("first bad seq = %d, want 2", res.FirstBadSeq)
	}
}

func TestVerifyEntriesDetectsGap(t *testing.T) {
	t.Parallel()

	entries := chainEntries(t, "local", []string{
		EventToolExecutionBlocked,
		EventPolicyDecisionResolved,
		EventAdapterTraceIngested,
	})
	gapped := []Entry{entries[0], entries[2]}

	res := VerifyEntries("local", gapped)
	if res.Verified {
		t.Fatal("gapped chain verified")
	}
	if res.FirstBadSeq != 3 {
		t.Errorf("first bad seq = %d, want 3", res.FirstBadSeq)
	}
}

func TestVerifyEntriesEmptyChain(t *testing.T) {
	t.Parallel()

	res := VerifyEntries("local", nil)
	if !res.Verified || res.Entries != 0 {
		t.Errorf("empty chain: verified=%v entries=%d", res.Verified, res.Entries)
	}
}
