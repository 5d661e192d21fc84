package resumedb

import "testing"

func TestQLGetSetDelete(t *testing.T) {
	db, err := NewQL("memory")
	if err != nil {
		t.Fatalf("NewQL: %v", err)
	}
	defer db.Close()

	const u = "http://example.org/file1.tar.gz"

	if _, ok, err := db.Get(u); err != nil {
		t.Fatalf("Get on empty db: %v", err)
	} else if ok {
		t.Errorf("Get on empty db: got ok, want not found")
	}

	if err := db.Set(u, 1024); err != nil {
		t.Fatalf("Set: %v", err)
	}
	offset, ok, err := db.Get(u)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || offset != 1024 {
		t.Errorf("Get: offset=%d ok=%v, want 1024,true", offset, ok)
	}

	if err := db.Set(u, 4096); err != nil {
		t.Fatalf("second Set: %v", err)
	}
	offset, _, _ = db.Get(u)
	if offset != 4096 {
		t.Errorf("Get after update: offset = %d, want 4096", offset)
	}

	if err := db.Delete(u); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := db.Get(u); ok {
		t.Errorf("Get after Delete: still found")
	}
}
