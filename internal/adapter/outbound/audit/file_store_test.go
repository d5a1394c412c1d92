package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/governed/governor/internal/domain/policy"

	domainaudit "github.com/governed/governor/internal/domain/audit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func sampleRecord(agentID string, ts time.Time) domainaudit.AuditRecord {
	return domainaudit.AuditRecord{
		ID:        "rec-" + agentID,
		WallMs:    ts.UnixMilli(),
		Timestamp: ts,
		Verdict:   policy.ActionAllow,
		AgentID:   agentID,
		Hook:      policy.HookBeforeToolCall,
		Tool:      "read",
	}
}

func TestFileStore_AppendAssignsSequenceAndChain(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		rec := sampleRecord("forge", now)
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	head := s.Head()
	if head.Seq != 3 {
		t.Errorf("head.Seq = %d, want 3", head.Seq)
	}
	if head.RecordCount != 3 {
		t.Errorf("head.RecordCount = %d, want 3", head.RecordCount)
	}
}

func TestFileStore_FirstRecordPrevHashIsZero(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Append(ctx, sampleRecord("forge", now)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	recs, err := s.readSegment(now.Format("2006-01-02"))
	if err != nil {
		t.Fatalf("readSegment: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len(recs) = %d, want 1", len(recs))
	}
	if recs[0].PrevHash != domainaudit.ZeroHash {
		t.Errorf("first record PrevHash = %q, want zero sentinel", recs[0].PrevHash)
	}
	_ = dir
}

func TestFileStore_ConsecutivePrevHashChains(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Append(ctx, sampleRecord("a", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, sampleRecord("b", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	recs, err := s.readSegment(now.Format("2006-01-02"))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[1].PrevHash != recs[0].Hash {
		t.Errorf("second record's PrevHash != first record's Hash")
	}
	if recs[1].Seq != recs[0].Seq+1 {
		t.Errorf("sequence not strictly increasing: %d -> %d", recs[0].Seq, recs[1].Seq)
	}
}

func TestFileStore_FlushOnSizeThreshold(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < flushMaxRecords; i++ {
		if err := s.Append(ctx, sampleRecord("forge", now)); err != nil {
			t.Fatal(err)
		}
	}

	// No explicit Flush call: hitting the threshold flushes synchronously.
	recs, err := s.readSegment(now.Format("2006-01-02"))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != flushMaxRecords {
		t.Errorf("segment has %d records, want %d", len(recs), flushMaxRecords)
	}
}

func TestFileStore_VerifyChainIntact(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, sampleRecord("forge", now)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	breakAt, err := s.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain error: %v", err)
	}
	if breakAt != 0 {
		t.Errorf("VerifyChain breakAt = %d, want 0 (intact)", breakAt)
	}
}

func TestFileStore_VerifyChainDetectsTamper(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, sampleRecord("forge", now)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Corrupt the segment file: flip one character to break a hash.
	path := filepath.Join(dir, now.Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), data...)
	for i, b := range tampered {
		if b == 'a' {
			tampered[i] = 'b'
			break
		}
	}
	if err := os.WriteFile(path, tampered, 0600); err != nil {
		t.Fatal(err)
	}

	s2, err := NewFileStore(FileStoreConfig{Dir: dir, VerifyOnStartup: true}, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer s2.Close()

	if err := s2.Append(ctx, sampleRecord("forge", now)); err == nil {
		t.Error("Append after detected chain break should fail (read-only mode)")
	}
}

func TestFileStore_QueryFiltersByAgentAndVerdict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	r1 := sampleRecord("forge", now)
	r2 := sampleRecord("sentry", now)
	r2.Verdict = policy.ActionDeny

	if err := s.Append(ctx, r1); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, r2); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	results, err := s.Query(ctx, domainaudit.Filter{AgentID: "forge"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].AgentID != "forge" {
		t.Errorf("agent filter returned %+v", results)
	}

	results, err = s.Query(ctx, domainaudit.Filter{Verdict: "deny"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Verdict != policy.ActionDeny {
		t.Errorf("verdict filter returned %+v", results)
	}
}

func TestFileStore_QueryRespectsLimit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		if err := s.Append(ctx, sampleRecord("forge", now)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	results, err := s.Query(ctx, domainaudit.Filter{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("len(results) = %d, want 3", len(results))
	}
}

func TestFileStore_HeadPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{Dir: dir}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		if err := s.Append(ctx, sampleRecord("forge", now)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := NewFileStore(FileStoreConfig{Dir: dir}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	head := s2.Head()
	if head.Seq != 4 {
		t.Errorf("resumed head.Seq = %d, want 4", head.Seq)
	}

	rec := sampleRecord("forge", now)
	if err := s2.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if s2.Head().Seq != 5 {
		t.Errorf("head.Seq after resumed append = %d, want 5", s2.Head().Seq)
	}
}

func TestFileStore_RetentionCleanup(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().UTC().AddDate(0, 0, -200).Format("2006-01-02")
	if err := os.WriteFile(filepath.Join(dir, old+".jsonl"), []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileStore(FileStoreConfig{Dir: dir, RetentionDays: 7}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, old+".jsonl")); !os.IsNotExist(err) {
		t.Error("expected old segment to be removed by retention cleanup")
	}
}

func TestFileStore_CorruptChainStateStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, chainStateFile), []byte("not json"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileStore(FileStoreConfig{Dir: dir}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.Head().Seq != 0 {
		t.Errorf("head.Seq after corrupt chain-state = %d, want 0", s.Head().Seq)
	}

	entries, _ := os.ReadDir(dir)
	foundCorrupt := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".jsonl" && e.Name() != chainStateFile {
			foundCorrupt = true
		}
	}
	if !foundCorrupt {
		t.Error("expected corrupt chain-state.json to be preserved with a suffix")
	}
}

func TestFileStore_MultiDayBatchSplitsSegments(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	if err := s.Append(ctx, sampleRecord("forge", day1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, sampleRecord("forge", day2)); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "2026-01-01.jsonl")); err != nil {
		t.Errorf("expected 2026-01-01.jsonl: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "2026-01-02.jsonl")); err != nil {
		t.Errorf("expected 2026-01-02.jsonl: %v", err)
	}
}

func TestFileStore_ImplementsDomainStoreInterface(t *testing.T) {
	var _ domainaudit.Store = (*FileStore)(nil)
}
