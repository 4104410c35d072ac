package provider

import "testing"

func TestSingleProviderLineupAcquireAndExhaust(t *testing.T) {
	l := NewLineup(Config{ID: 1, Name: "p1", MaxConnections: 1, Priority: 1})

	p := l.Acquire(false)
	if p == nil || p.ID != 1 {
		t.Fatalf("expected provider 1, got %+v", p)
	}
	if l.Acquire(false) != nil {
		t.Fatal("expected exhaustion after one connection")
	}
	if p2 := l.Acquire(true); p2 == nil || p2.ID != 1 {
		t.Fatalf("force acquire should still succeed, got %+v", p2)
	}
}

func TestLineupReleaseFreesCapacity(t *testing.T) {
	l := NewLineup(Config{ID: 1, Name: "p1", MaxConnections: 2, Priority: 1})

	l.Acquire(false)
	l.Acquire(false)
	if l.Acquire(false) != nil {
		t.Fatal("expected exhaustion")
	}
	l.Release(1)
	if l.Acquire(false) == nil {
		t.Fatal("expected capacity after release")
	}
}

func TestMultiProviderLineupRoundRobinsWithinPriority(t *testing.T) {
	// Primary and alias share priority 1, so acquire should alternate
	// between them.
	l := NewLineup(
		Config{ID: 1, Name: "primary", MaxConnections: 2, Priority: 1},
		Config{ID: 2, Name: "alias", MaxConnections: 1, Priority: 1},
	)

	first := l.Acquire(false)
	second := l.Acquire(false)
	third := l.Acquire(false)

	if first == nil || second == nil || third == nil {
		t.Fatalf("expected three successful acquisitions, got %+v %+v %+v", first, second, third)
	}
	if first.ID == second.ID {
		t.Fatalf("expected round-robin to alternate providers, got %d then %d", first.ID, second.ID)
	}
	if l.Acquire(false) != nil {
		t.Fatal("expected exhaustion once both providers hit their caps")
	}
}

func TestMultiProviderLineupPrefersHigherPriority(t *testing.T) {
	// Alias has a lower priority value (higher priority), so it should be
	// acquired before the primary.
	l := NewLineup(
		Config{ID: 1, Name: "primary", MaxConnections: 2, Priority: 1},
		Config{ID: 2, Name: "alias", MaxConnections: 2, Priority: 0},
	)

	p := l.Acquire(false)
	if p == nil || p.ID != 2 {
		t.Fatalf("expected the higher-priority alias first, got %+v", p)
	}
}

func TestManagerAcquireReleaseByLineupName(t *testing.T) {
	m := NewManager(false)
	m.AddLineup("input1", NewLineup(Config{ID: 1, Name: "p1", MaxConnections: 1, Priority: 1}))

	p := m.AcquireConnection("input1")
	if p == nil {
		t.Fatal("expected a provider")
	}
	if m.AcquireConnection("input1") != nil {
		t.Fatal("expected exhaustion")
	}
	m.ReleaseConnection("input1", p.ID)
	if m.AcquireConnection("input1") == nil {
		t.Fatal("expected capacity after release")
	}
	if m.AcquireConnection("missing") != nil {
		t.Fatal("expected nil for unknown lineup")
	}
}

func TestManagerUserAccessControlForcesAllocation(t *testing.T) {
	m := NewManager(true)
	m.AddLineup("input1", NewLineup(Config{ID: 1, Name: "p1", MaxConnections: 1, Priority: 1}))

	m.AcquireConnection("input1")
	p := m.AcquireConnection("input1")
	if p == nil {
		t.Fatal("expected user_access_control to force allocation past capacity")
	}
}

func TestManagerActiveConnectionsReportsCounts(t *testing.T) {
	m := NewManager(false)
	m.AddLineup("input1", NewLineup(Config{ID: 1, Name: "p1", MaxConnections: 2, Priority: 1}))
	m.AcquireConnection("input1")

	counts := m.ActiveConnections()
	if counts["p1"] != 1 {
		t.Fatalf("expected p1 to show 1 active connection, got %d", counts["p1"])
	}
}
