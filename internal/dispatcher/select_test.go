package dispatcher

import (
	"testing"

	"github.com/loadfabric/loadfabric/internal/protocol"
)

func worker(id, version string, restricted bool) *WorkerConn {
	return &WorkerConn{
		ID: id,
		Hello: protocol.ClientHello{
			ClientID:       id,
			ClientVersion:  version,
			RestrictedMode: restricted,
		},
	}
}

func ids(workers []*WorkerConn) []string {
	out := make([]string, len(workers))
	for i, w := range workers {
		out[i] = w.ID
	}
	return out
}

func TestSelectionPolicyStableOrderAndCount(t *testing.T) {
	candidates := []*WorkerConn{
		worker("c", "1.0", false),
		worker("a", "1.0", false),
		worker("b", "1.0", false),
	}
	got := ids(SelectionPolicy{}.Select(candidates, 2))
	want := []string{"a", "b"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Select(n=2) = %v, want %v", got, want)
	}
}

func TestSelectionPolicyExcludesRestrictedByDefault(t *testing.T) {
	candidates := []*WorkerConn{
		worker("a", "1.0", true),
		worker("b", "1.0", false),
	}
	got := ids(SelectionPolicy{}.Select(candidates, 2))
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("Select() = %v, want only unrestricted worker b", got)
	}
}

func TestSelectionPolicyTargetedIncludesRestricted(t *testing.T) {
	candidates := []*WorkerConn{
		worker("a", "1.0", true),
		worker("b", "1.0", false),
	}
	policy := SelectionPolicy{TargetWorkerIDs: []string{"a"}}
	got := ids(policy.Select(candidates, 1))
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("targeted Select() = %v, want [a] (restricted worker explicitly named)", got)
	}
}

func TestSelectionPolicyVersionFilter(t *testing.T) {
	candidates := []*WorkerConn{
		worker("a", "1.0", false),
		worker("b", "2.0", false),
	}
	policy := SelectionPolicy{RequiredVersion: "2.0"}
	got := ids(policy.Select(candidates, 2))
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("version-filtered Select() = %v, want [b]", got)
	}
}

func TestSelectionPolicyInsufficientEligibleWorkers(t *testing.T) {
	candidates := []*WorkerConn{worker("a", "1.0", false)}
	got := SelectionPolicy{}.Select(candidates, 3)
	if len(got) != 1 {
		t.Fatalf("Select(n=3) over 1 candidate returned %d, want 1 (caller checks count against n)", len(got))
	}
}
