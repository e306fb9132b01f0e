package procs

import (
	"context"
	"os"
	"sort"
	"testing"
)

func TestListIncludesSelf(t *testing.T) {
	infos, err := List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	self := uint32(os.Getpid())
	for _, info := range infos {
		if info.PID == self {
			if info.Name == "" {
				t.Error("self entry has empty name")
			}
			return
		}
	}
	t.Fatalf("own pid %d not in listing of %d processes", self, len(infos))
}

func TestListSorted(t *testing.T) {
	infos, err := List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	sorted := sort.SliceIsSorted(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].PID < infos[j].PID
	})
	if !sorted {
		t.Error("listing not sorted by name, pid")
	}
}

func TestFindFirstNoMatch(t *testing.T) {
	if _, err := FindFirst(context.Background(), "zz-no-such-process-zz"); err == nil {
		t.Error("expected error for unmatched name")
	}
}

func TestExistsSelf(t *testing.T) {
	if !Exists(context.Background(), uint32(os.Getpid())) {
		t.Error("Exists(self) = false")
	}
}
