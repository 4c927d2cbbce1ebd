package dispatcher

// SelectionPolicy is the deterministic worker-selection predicate (spec.md
// §4.6 "given a pending job demanding N clients, the dispatcher selects the
// first N available connected workers whose (version, authorized)
// predicates match, preferring workers that are not in restricted mode
// unless the job explicitly targets them"). ClientHello carries no OS field
// in this catalogue, so the OS predicate spec.md §4.6 names is out of scope
// here — version, auth (already enforced at handshake), and restricted-mode
// are the only selectable dimensions the wire protocol exposes.
type SelectionPolicy struct {
	// RequiredVersion, if non-empty, is matched exactly against
	// WorkerConn.Hello.ClientVersion.
	RequiredVersion string

	// TargetWorkerIDs, if non-empty, restricts selection to exactly these
	// worker IDs, in the given order, regardless of restricted mode — "a
	// job explicitly targets them" (spec.md §4.6).
	TargetWorkerIDs []string
}

// Select returns up to n eligible workers in stable order, assigning
// clientNumber 0..N-1 by that order (spec.md §4.6 "clientNumber ... is
// assigned in stable order (0..N-1) per job").
func (p SelectionPolicy) Select(candidates []*WorkerConn, n int) []*WorkerConn {
	if len(p.TargetWorkerIDs) > 0 {
		return p.selectTargeted(candidates, n)
	}

	byID := make(map[string]*WorkerConn, len(candidates))
	var ordered []*WorkerConn
	for _, wc := range candidates {
		byID[wc.ID] = wc
		ordered = append(ordered, wc)
	}
	stableSortByID(ordered)

	var eligible []*WorkerConn
	for _, wc := range ordered {
		if !p.matches(wc) {
			continue
		}
		if wc.Hello.RestrictedMode {
			continue // restricted workers are only eligible for jobs that name them
		}
		eligible = append(eligible, wc)
		if len(eligible) == n {
			break
		}
	}
	return eligible
}

func (p SelectionPolicy) selectTargeted(candidates []*WorkerConn, n int) []*WorkerConn {
	byID := make(map[string]*WorkerConn, len(candidates))
	for _, wc := range candidates {
		byID[wc.ID] = wc
	}
	var eligible []*WorkerConn
	for _, id := range p.TargetWorkerIDs {
		wc, ok := byID[id]
		if !ok || !p.matches(wc) {
			continue
		}
		eligible = append(eligible, wc)
		if len(eligible) == n {
			break
		}
	}
	return eligible
}

func (p SelectionPolicy) matches(wc *WorkerConn) bool {
	if p.RequiredVersion != "" && wc.Hello.ClientVersion != p.RequiredVersion {
		return false
	}
	return true
}

func stableSortByID(workers []*WorkerConn) {
	for i := 1; i < len(workers); i++ {
		for j := i; j > 0 && workers[j-1].ID > workers[j].ID; j-- {
			workers[j-1], workers[j] = workers[j], workers[j-1]
		}
	}
}
