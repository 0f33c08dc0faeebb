package run_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shpitdev/outreach-enricher/internal/enrich"
	"github.com/shpitdev/outreach-enricher/internal/fetch"
	"github.com/shpitdev/outreach-enricher/internal/run"
	"github.com/shpitdev/outreach-enricher/internal/table"
	"github.com/shpitdev/outreach-enricher/pkg/pipeline/checkpoint"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	block map[string]chan struct{}
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		calls: make(map[string]int),
		fail:  make(map[string]error),
		block: make(map[string]chan struct{}),
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	f.calls[id]++
	gate := f.block[id]
	err := f.fail[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", &fetch.Error{Identifier: id, Err: ctx.Err()}
		}
	}
	if err != nil {
		return "", &fetch.Error{Identifier: id, Err: err}
	}
	return "website text for " + id, nil
}

func (f *stubFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type stubEnricher struct {
	mu   sync.Mutex
	fail map[string]error
}

func newStubEnricher() *stubEnricher {
	return &stubEnricher{fail: make(map[string]error)}
}

func (e *stubEnricher) Enrich(_ context.Context, id, _ string) (enrich.Result, error) {
	e.mu.Lock()
	err := e.fail[id]
	e.mu.Unlock()
	if err != nil {
		return enrich.Result{Model: "stub"}.Normalize(), err
	}
	return enrich.Result{
		Summary:  "summary of " + id,
		Products: []string{"widgets"},
		Emails:   []enrich.Message{{Tone: "professional", Subject: "hi", Body: "Hello,"}},
		Model:    "stub",
	}, nil
}

func items(ids ...string) []table.Item {
	out := make([]table.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, table.Item{Identifier: id, Passthrough: map[string]string{}})
	}
	return out
}

func openLog(t *testing.T, path string) *checkpoint.Log {
	t.Helper()
	l, err := checkpoint.Open(path, run.Header())
	if err != nil {
		t.Fatalf("open checkpoint: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRun_SequentialCheckpointOrder(t *testing.T) {
	t.Parallel()

	ckpt := openLog(t, filepath.Join(t.TempDir(), "out.csv"))
	c := run.New(newStubFetcher(), newStubEnricher(), nil, run.Options{})

	r, err := c.Start(context.Background(), items("a.example", "b.example", "c.example"), ckpt)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if !slices.Equal(ckpt.Keys(), []string{"a.example", "b.example", "c.example"}) {
		t.Fatalf("unexpected checkpoint order: %v", ckpt.Keys())
	}
	st := r.Status()
	if st.Processed != 3 || st.Succeeded != 3 || st.Failed != 0 || !st.Done {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.LastIdentifier != "c.example" {
		t.Fatalf("last = %q", st.LastIdentifier)
	}
}

func TestRun_DedupOnIngest(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	ckpt := openLog(t, filepath.Join(t.TempDir(), "out.csv"))
	c := run.New(f, newStubEnricher(), nil, run.Options{})

	r, err := c.Start(context.Background(), items("x.example", "x.example", "y.example"), ckpt)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if got := ckpt.Keys(); !slices.Equal(got, []string{"x.example", "y.example"}) {
		t.Fatalf("dedup failed: %v", got)
	}
	if f.callCount("x.example") != 1 {
		t.Fatalf("x fetched %d times, want 1", f.callCount("x.example"))
	}
}

func TestRun_BlankIdentifiersSkippedPreLoop(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	ckpt := openLog(t, filepath.Join(t.TempDir(), "out.csv"))
	c := run.New(f, newStubEnricher(), nil, run.Options{})

	r, err := c.Start(context.Background(), items("example.com", "", "openai.com"), ckpt)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if got := ckpt.Keys(); !slices.Equal(got, []string{"example.com", "openai.com"}) {
		t.Fatalf("blank row leaked into checkpoint: %v", got)
	}
	st := r.Status()
	if st.Total != 2 || st.Skipped != 1 || st.Failed != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if f.callCount("") != 0 {
		t.Fatalf("blank identifier was fetched")
	}
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	f.fail["bad.example"] = errors.New("connection refused")
	ckpt := openLog(t, filepath.Join(t.TempDir(), "out.csv"))
	c := run.New(f, newStubEnricher(), nil, run.Options{})

	r, err := c.Start(context.Background(), items("a.example", "bad.example", "c.example"), ckpt)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Wait(); err != nil {
		t.Fatalf("one bad row must not abort the batch: %v", err)
	}

	st := r.Status()
	if st.Succeeded != 2 || st.Failed != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}

	rec, ok := ckpt.Get("bad.example")
	if !ok {
		t.Fatalf("failed item missing from checkpoint")
	}
	row := run.RowFromRecord(rec)
	if row.Status != "error" || row.Error == "" {
		t.Fatalf("failed row not annotated: %#v", row)
	}
	// Schema completeness: every list field stays a typed empty value.
	for name, got := range map[string]string{
		"products":     row.Products,
		"target_roles": row.TargetRoles,
		"industries":   row.Industries,
		"regions":      row.Regions,
		"emails":       row.Emails,
	} {
		if got != "[]" {
			t.Fatalf("%s = %q, want typed empty array", name, got)
		}
	}
}

func TestRun_MalformedReplyDegradesToTypedDefaults(t *testing.T) {
	t.Parallel()

	e := newStubEnricher()
	e.fail["weird.example"] = &enrich.ParseError{Raw: "not json at all", Err: errors.New("invalid character")}
	ckpt := openLog(t, filepath.Join(t.TempDir(), "out.csv"))
	c := run.New(newStubFetcher(), e, nil, run.Options{})

	r, err := c.Start(context.Background(), items("weird.example"), ckpt)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	rec, _ := ckpt.Get("weird.example")
	row := run.RowFromRecord(rec)
	if row.Status != "error" || !strings.Contains(row.Error, "not json at all") {
		t.Fatalf("parse error should retain raw reply: %#v", row)
	}
	if row.Products != "[]" || row.Summary != "" {
		t.Fatalf("zero result not typed: %#v", row)
	}
}

func TestRun_IdempotentResumeAcrossRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	in := items("a.example", "b.example", "c.example")

	// First run: only the first two items exist.
	f1 := newStubFetcher()
	ckpt1 := openLog(t, path)
	c1 := run.New(f1, newStubEnricher(), nil, run.Options{})
	r1, err := c1.Start(context.Background(), in[:2], ckpt1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r1.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := ckpt1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Restart with the full list: exactly the remaining item is processed.
	f2 := newStubFetcher()
	ckpt2 := openLog(t, path)
	c2 := run.New(f2, newStubEnricher(), nil, run.Options{})
	r2, err := c2.Start(context.Background(), in, ckpt2)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := r2.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if f2.callCount("a.example") != 0 || f2.callCount("b.example") != 0 {
		t.Fatalf("resume reprocessed resolved items: %v", f2.calls)
	}
	if f2.callCount("c.example") != 1 {
		t.Fatalf("c fetched %d times, want 1", f2.callCount("c.example"))
	}
	if got := ckpt2.Keys(); !slices.Equal(got, []string{"a.example", "b.example", "c.example"}) {
		t.Fatalf("merged result set wrong: %v", got)
	}
	st := r2.Status()
	if st.Processed != 3 || st.Total != 3 {
		t.Fatalf("restart did not reproduce processed count: %+v", st)
	}
}

func TestRun_PauseBoundaryAndResume(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	gate := make(chan struct{})
	f.block["c.example"] = gate

	ckpt := openLog(t, filepath.Join(t.TempDir(), "out.csv"))
	c := run.New(f, newStubEnricher(), nil, run.Options{})

	r, err := c.Start(context.Background(), items("a.example", "b.example", "c.example"), ckpt)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Wait for a and b to be recorded, then pause while c is held in flight.
	deadline := time.Now().Add(5 * time.Second)
	for ckpt.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for first two items, have %v", ckpt.Keys())
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Pause()
	close(gate)

	if got := ckpt.Keys(); !slices.Equal(got, []string{"a.example", "b.example"}) {
		t.Fatalf("pause lost or gained rows: %v", got)
	}
	st := r.Status()
	if !st.Paused || st.Done {
		t.Fatalf("expected paused status: %+v", st)
	}

	if err := r.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := r.Wait(); err != nil {
		t.Fatalf("wait after resume: %v", err)
	}
	if got := ckpt.Keys(); !slices.Equal(got, []string{"a.example", "b.example", "c.example"}) {
		t.Fatalf("resume did not process exactly the remainder: %v", got)
	}
	if f.callCount("a.example") != 1 || f.callCount("b.example") != 1 {
		t.Fatalf("resume reprocessed resolved items: %v", f.calls)
	}
}

func TestRun_FailedItemsNotRetriedByDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")

	f1 := newStubFetcher()
	f1.fail["a.example"] = errors.New("boom")
	ckpt1 := openLog(t, path)
	c1 := run.New(f1, newStubEnricher(), nil, run.Options{})
	r1, err := c1.Start(context.Background(), items("a.example"), ckpt1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r1.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := ckpt1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Default policy: the failed row stays resolved.
	f2 := newStubFetcher()
	ckpt2 := openLog(t, path)
	c2 := run.New(f2, newStubEnricher(), nil, run.Options{})
	r2, err := c2.Start(context.Background(), items("a.example"), ckpt2)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := r2.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if f2.callCount("a.example") != 0 {
		t.Fatalf("failed item retried without explicit action")
	}
	if err := ckpt2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Explicit retry-failed: the row is processed again and the latest
	// record wins in the compacted view.
	f3 := newStubFetcher()
	ckpt3 := openLog(t, path)
	c3 := run.New(f3, newStubEnricher(), nil, run.Options{RetryFailed: true})
	r3, err := c3.Start(context.Background(), items("a.example"), ckpt3)
	if err != nil {
		t.Fatalf("retry restart: %v", err)
	}
	if err := r3.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if f3.callCount("a.example") != 1 {
		t.Fatalf("retry-failed did not reprocess, calls=%d", f3.callCount("a.example"))
	}
	recs := ckpt3.Records()
	if len(recs) != 1 {
		t.Fatalf("compacted view should have 1 row, got %d", len(recs))
	}
	if row := run.RowFromRecord(recs[0]); row.Status != "ok" {
		t.Fatalf("latest record should win: %#v", row)
	}
}

func TestRun_PassthroughCarried(t *testing.T) {
	t.Parallel()

	ckpt := openLog(t, filepath.Join(t.TempDir(), "out.csv"))
	c := run.New(newStubFetcher(), newStubEnricher(), nil, run.Options{})

	in := []table.Item{{
		Identifier:  "acme.example",
		Passthrough: map[string]string{"first_name": "Ada", "company": "Acme"},
	}}
	r, err := c.Start(context.Background(), in, ckpt)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	rec, _ := ckpt.Get("acme.example")
	row := run.RowFromRecord(rec)
	if !strings.Contains(row.Passthrough, `"first_name":"Ada"`) {
		t.Fatalf("passthrough lost: %q", row.Passthrough)
	}
	if !strings.Contains(row.Emails, `"professional"`) {
		t.Fatalf("emails column missing tone: %q", row.Emails)
	}
}

func TestStart_Validation(t *testing.T) {
	t.Parallel()

	ckpt := openLog(t, filepath.Join(t.TempDir(), "out.csv"))
	c := run.New(newStubFetcher(), newStubEnricher(), nil, run.Options{})

	if _, err := c.Start(context.Background(), nil, ckpt); err == nil {
		t.Fatalf("expected error for empty work list")
	}
	if _, err := c.Start(context.Background(), items("a"), nil); err == nil {
		t.Fatalf("expected error for nil checkpoint")
	}
}
