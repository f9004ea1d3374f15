package slot

import "testing"

func newTestTable(n int) *Table {
	tbl := NewTable()
	for i := 0; i < n; i++ {
		tbl.Put(Slot{
			Name:  slotName(i),
			Index: i,
			Ports: Ports{App: 10222 + i, Debugger: 7070 + i, VNC: 15900 + i},
			State: Empty,
		})
	}
	return tbl
}

func slotName(i int) string {
	return "bx-" + itoa(10222+i)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

func TestTable_PutAndGet(t *testing.T) {
	tbl := newTestTable(2)
	s, ok := tbl.Get("bx-10222")
	if !ok {
		t.Fatal("expected slot bx-10222 to exist")
	}
	if s.State != Empty {
		t.Errorf("expected Empty, got %s", s.State)
	}
}

func TestTable_MutateDoesNotChangeIdentity(t *testing.T) {
	tbl := newTestTable(1)
	s, err := tbl.Mutate("bx-10222", func(s *Slot) {
		s.Name = "hijacked"
		s.Index = 99
		s.Ports = Ports{App: 1}
		s.State = Ready
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "bx-10222" || s.Index != 0 || s.Ports.App != 10222 {
		t.Errorf("Mutate must not change Name/Index/Ports, got %+v", s)
	}
	if s.State != Ready {
		t.Errorf("expected State to change, got %s", s.State)
	}
}

func TestTable_FirstReadySkipsRemoving(t *testing.T) {
	tbl := newTestTable(2)
	tbl.Mutate("bx-10222", func(s *Slot) { s.State = Ready; s.IsRemoving = true })
	tbl.Mutate("bx-10223", func(s *Slot) { s.State = Ready })

	got, ok := tbl.FirstReady()
	if !ok {
		t.Fatal("expected a ready slot")
	}
	if got.Name != "bx-10223" {
		t.Errorf("expected bx-10223, got %s", got.Name)
	}
}

func TestTable_FindByLabelID(t *testing.T) {
	tbl := newTestTable(1)
	tbl.Mutate("bx-10222", func(s *Slot) {
		s.Labels["id"] = "agent-abc"
	})
	s, ok := tbl.FindByLabelID("agent-abc")
	if !ok || s.Name != "bx-10222" {
		t.Fatalf("expected to find bx-10222 by label id, got %+v ok=%v", s, ok)
	}
}

func TestTable_SnapshotIsIndexOrdered(t *testing.T) {
	tbl := newTestTable(3)
	snap := tbl.Snapshot()
	for i, s := range snap {
		if s.Index != i {
			t.Errorf("snapshot[%d].Index = %d, want %d", i, s.Index, i)
		}
	}
}

func TestSlot_PortsDisjoint(t *testing.T) {
	tbl := newTestTable(3)
	snap := tbl.Snapshot()
	seen := map[int]string{}
	for _, s := range snap {
		for _, p := range []int{s.Ports.App, s.Ports.Debugger, s.Ports.VNC} {
			if owner, ok := seen[p]; ok {
				t.Fatalf("port %d used by both %s and %s", p, owner, s.Name)
			}
			seen[p] = s.Name
		}
	}
}
