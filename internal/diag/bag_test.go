package diag

import "testing"

func TestBagLimit(t *testing.T) {
	b := NewBag(2)
	if !b.Add(Warnf(LifeStreamLookupMiss, "one")) {
		t.Fatal("first add rejected")
	}
	if !b.Add(Warnf(LifeStreamLookupMiss, "two")) {
		t.Fatal("second add rejected")
	}
	if b.Add(Warnf(LifeStreamLookupMiss, "three")) {
		t.Fatal("add over the limit accepted")
	}
	if b.Len() != 2 {
		t.Errorf("Len = %d, want 2", b.Len())
	}
}

func TestNilBagIsSafe(t *testing.T) {
	var b *Bag
	if b.Add(Warnf(CacheOpenFailed, "ignored")) {
		t.Error("nil bag accepted a diagnostic")
	}
	if b.Len() != 0 || b.Items() != nil {
		t.Error("nil bag reports contents")
	}
}

func TestBagSortOrder(t *testing.T) {
	b := NewBag(8)
	b.Add(Infof(GraphInfo, "info"))
	b.Add(Warnf(CacheVerifyMismatch, "late warn"))
	b.Add(Warnf(ConstrRefPositionMismatch, "early warn").WithTensor(3))
	b.Sort()

	items := b.Items()
	if items[0].Severity != SevWarning {
		t.Errorf("warnings must sort before info, got %v first", items[0].Severity)
	}
	if items[0].Code != ConstrRefPositionMismatch {
		t.Errorf("lower code must sort first within a severity, got %v", items[0].Code)
	}
	if items[2].Severity != SevInfo {
		t.Errorf("info must sort last, got %v", items[2].Severity)
	}
}

func TestBagMergeGrowsLimit(t *testing.T) {
	a := NewBag(1)
	a.Add(Warnf(GraphInfo, "a"))
	b := NewBag(2)
	b.Add(Warnf(GraphInfo, "b1"))
	b.Add(Warnf(GraphInfo, "b2"))

	a.Merge(b)
	if a.Len() != 3 {
		t.Errorf("Len after merge = %d, want 3", a.Len())
	}
}

func TestCodeString(t *testing.T) {
	if got := ConstrRefListConflict.String(); got != "SOMAS3003" {
		t.Errorf("Code.String() = %q, want SOMAS3003", got)
	}
}

func TestDiagnosticString(t *testing.T) {
	d := Warnf(CacheTensorMismatch, "size drifted").WithNode(4).WithTensor(9)
	want := "[WARNING] SOMAS5004: size drifted (node 4) (tensor 9)"
	if d.String() != want {
		t.Errorf("String() = %q, want %q", d.String(), want)
	}
}
