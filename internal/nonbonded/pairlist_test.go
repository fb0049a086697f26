package nonbonded

import (
	"errors"
	"strings"
	"testing"
)

func testPairList(nsci, ncj4, nexcl int) *PairList {
	return &PairList{
		ClusterSize: 8,
		SCI:         make([]SCIEntry, nsci),
		CJ4:         make([]CJ4Entry, ncj4),
		Excl:        make([]ExclEntry, nexcl),
	}
}

func TestPairListUploadSetsPrune(t *testing.T) {
	ctx, q := newTestQueue(t)
	pl := newPairListStore()
	defer pl.release()

	if pl.DoPrune() {
		t.Error("fresh store owes a prune before any upload")
	}
	if _, err := pl.upload(ctx, q, testPairList(4, 16, 2), false); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !pl.DoPrune() {
		t.Error("upload did not set the prune flag")
	}
	pl.PruneDone()
	if pl.DoPrune() {
		t.Error("PruneDone did not clear the flag")
	}

	// every fresh list owes a new pruning pass
	if _, err := pl.upload(ctx, q, testPairList(4, 16, 2), false); err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if !pl.DoPrune() {
		t.Error("second upload did not re-set the prune flag")
	}
}

func TestPairListClusterSizeChangeFatal(t *testing.T) {
	ctx, q := newTestQueue(t)
	pl := newPairListStore()
	defer pl.release()

	if _, err := pl.upload(ctx, q, testPairList(1, 1, 1), false); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	bad := testPairList(1, 1, 1)
	bad.ClusterSize = 4
	_, err := pl.upload(ctx, q, bad, false)
	if !errors.Is(err, ErrInconsistentConfig) {
		t.Fatalf("cluster-size change returned %v, want ErrInconsistentConfig", err)
	}
	if !strings.Contains(err.Error(), "changed from 8 to 4") {
		t.Errorf("error %q does not name the old and new size", err)
	}
}

func TestPairListBuffersGrowIndependently(t *testing.T) {
	ctx, q := newTestQueue(t)
	pl := newPairListStore()
	defer pl.release()

	if _, err := pl.upload(ctx, q, testPairList(10, 10, 10), false); err != nil {
		t.Fatalf("upload: %v", err)
	}
	cj4Cap := pl.cj4.capacity
	exclCap := pl.excl.capacity

	// only the outer list grows; the inner buffers keep their allocation
	if _, err := pl.upload(ctx, q, testPairList(pl.sci.capacity+1, 10, 10), false); err != nil {
		t.Fatalf("grow sci: %v", err)
	}
	if pl.cj4.capacity != cj4Cap || pl.excl.capacity != exclCap {
		t.Errorf("cj4/excl capacity changed (%d, %d) when only sci grew",
			pl.cj4.capacity, pl.excl.capacity)
	}
}

func TestPairListCountsRefreshWithoutRealloc(t *testing.T) {
	ctx, q := newTestQueue(t)
	pl := newPairListStore()
	defer pl.release()

	if _, err := pl.upload(ctx, q, testPairList(100, 200, 50), false); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := pl.upload(ctx, q, testPairList(7, 13, 3), false); err != nil {
		t.Fatalf("smaller upload: %v", err)
	}
	if pl.sci.n != 7 || pl.cj4.n != 13 || pl.excl.n != 3 {
		t.Errorf("counts (%d, %d, %d), want (7, 13, 3)", pl.sci.n, pl.cj4.n, pl.excl.n)
	}
}

func TestPairListEntrySizes(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"sci", len(asBytes([]SCIEntry{{}})), 16},
		{"cj4", len(asBytes([]CJ4Entry{{}})), 32},
		{"excl", len(asBytes([]ExclEntry{{}})), 128},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s entry is %d bytes on the wire, want %d", tt.name, tt.got, tt.want)
		}
	}
}
