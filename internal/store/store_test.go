package store

import (
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestSetGet(t *testing.T) {
	s := testStore(t)
	if err := s.Set("task:u1:s1:t1", `{"state":"pending"}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, rev, err := s.Get("task:u1:s1:t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != `{"state":"pending"}` {
		t.Errorf("value = %q", val)
	}
	if rev != 1 {
		t.Errorf("revision = %d, want 1", rev)
	}
}

func TestGet_Missing(t *testing.T) {
	s := testStore(t)
	_, _, err := s.Get("task:u1:s1:absent")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestSet_BumpsRevision(t *testing.T) {
	s := testStore(t)
	key := "session:u1:s1"
	for i := 0; i < 3; i++ {
		if err := s.Set(key, "v"); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	_, rev, err := s.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rev != 3 {
		t.Errorf("revision = %d, want 3", rev)
	}
}

func TestCompareAndSet(t *testing.T) {
	s := testStore(t)
	key := "task:u1:s1:t1"
	if err := s.Set(key, "a"); err != nil {
		t.Fatal(err)
	}

	if err := s.CompareAndSet(key, 1, "b"); err != nil {
		t.Fatalf("cas with current revision: %v", err)
	}
	val, rev, _ := s.Get(key)
	if val != "b" || rev != 2 {
		t.Errorf("after cas: value=%q revision=%d, want b/2", val, rev)
	}

	// Stale revision loses.
	err := s.CompareAndSet(key, 1, "c")
	if !errors.Is(err, ErrRevisionMismatch) {
		t.Fatalf("stale cas err = %v, want ErrRevisionMismatch", err)
	}
	val, _, _ = s.Get(key)
	if val != "b" {
		t.Errorf("value after losing cas = %q, want b", val)
	}
}

func TestCompareAndSet_DeletedKey(t *testing.T) {
	s := testStore(t)
	key := "task:u1:s1:t1"
	if err := s.Set(key, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatal(err)
	}
	err := s.CompareAndSet(key, 1, "b")
	if !errors.Is(err, ErrRevisionMismatch) {
		t.Fatalf("cas on deleted key err = %v, want ErrRevisionMismatch", err)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	s := testStore(t)
	key := "task:u1:s1:t1"
	if err := s.Set(key, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestKeys_PrefixIsolation(t *testing.T) {
	s := testStore(t)
	for _, k := range []string{
		"session:u1:s1", "session:u1:s2",
		"session:u10:s1",
		"session:u2:s1",
	} {
		if err := s.Set(k, "x"); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := s.Keys(SessionPrefix("u1"))
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want 2 entries for u1 only", keys)
	}
	if keys[0] != "session:u1:s1" || keys[1] != "session:u1:s2" {
		t.Errorf("keys = %v, want ascending u1 sessions", keys)
	}
}

func TestKeys_EscapesLikeMetacharacters(t *testing.T) {
	s := testStore(t)
	if err := s.Set("session:a_c:s1", "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("session:abc:s1", "x"); err != nil {
		t.Fatal(err)
	}
	keys, err := s.Keys(SessionPrefix("a_c"))
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "session:a_c:s1" {
		t.Errorf("keys = %v, want only the literal a_c session", keys)
	}
}

func TestList_DescWithLimit(t *testing.T) {
	s := testStore(t)
	for _, k := range []string{"memory:u1:001", "memory:u1:002", "memory:u1:003"} {
		if err := s.Set(k, k); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := s.List(MemoryPrefix("u1"), 2, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("list returned %d records, want 2", len(recs))
	}
	if recs[0].Key != "memory:u1:003" || recs[1].Key != "memory:u1:002" {
		t.Errorf("list order = [%s %s], want newest first", recs[0].Key, recs[1].Key)
	}
}

func TestDeletePrefix(t *testing.T) {
	s := testStore(t)
	for _, k := range []string{"task:u1:s1:t1", "task:u1:s1:t2", "task:u1:s2:t1"} {
		if err := s.Set(k, "x"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeletePrefix(TaskPrefix("u1", "s1")); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	keys, _ := s.Keys(UserTaskPrefix("u1"))
	if len(keys) != 1 || keys[0] != "task:u1:s2:t1" {
		t.Errorf("remaining keys = %v, want only s2 task", keys)
	}
}

func TestCount(t *testing.T) {
	s := testStore(t)
	for _, k := range []string{"session:u1:s1", "session:u1:s2", "session:u2:s1"} {
		if err := s.Set(k, "x"); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Count(AllSessionsPrefix())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestPing(t *testing.T) {
	s := testStore(t)
	if err := s.Ping(); err != nil {
		t.Errorf("ping: %v", err)
	}
}
