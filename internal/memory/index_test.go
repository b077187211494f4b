package memory

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/stellarlinkco/sentiencex/internal/locale"
	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

func testSegmenter(t *testing.T) *nlp.Segmenter {
	t.Helper()
	return nlp.NewSegmenter(testBundle(t).Alphabet)
}

func testBundle(t *testing.T) *locale.Bundle {
	t.Helper()
	b, err := locale.LoadDefault(locale.DefaultName)
	if err != nil {
		t.Fatalf("load locale: %v", err)
	}
	return b
}

func TestIndexTerms(t *testing.T) {
	seg := testSegmenter(t)
	got := indexTerms(seg, "The job, the JOB and my boss!! a1b2c3d4e5f6g7h8i9j0k1l2m3 ok")
	want := []string{"boss", "job"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("terms mismatch (-want +got):\n%s", diff)
	}
}

func TestIndex_AddAndSearch(t *testing.T) {
	seg := testSegmenter(t)
	ix := NewIndex()
	ix.AddDocument(seg, 1, "work was stressful")
	ix.AddDocument(seg, 2, "sleep is bad lately")
	ix.AddDocument(seg, 3, "work and sleep both")
	ix.AddDocument(seg, 3, "work again")
	ix.AddDocument(seg, 4, "ok")

	if ix.DocCount != 5 {
		t.Fatalf("doc count = %d, want 5", ix.DocCount)
	}
	if diff := cmp.Diff([]int64{1, 3}, ix.Postings["work"]); diff != "" {
		t.Fatalf("postings mismatch (-want +got):\n%s", diff)
	}
	if ix.DocFreq["work"] != 3 {
		t.Fatalf("df(work) = %d, want 3", ix.DocFreq["work"])
	}
	if want := math.Log(6.0/4.0) + 1; ix.IDF("work") != want {
		t.Fatalf("idf = %v, want %v", ix.IDF("work"), want)
	}

	hits := ix.Search(seg, "work sleep", 2)
	if len(hits) != 2 || hits[0].DocID != 3 {
		t.Fatalf("hits = %+v, want doc 3 first", hits)
	}
	if ix.Search(seg, "work", 0) != nil {
		t.Fatal("limit 0 must return nothing")
	}
	if got := ix.Search(seg, "the and", 5); len(got) != 0 {
		t.Fatalf("stopword query hits = %+v", got)
	}
}

func TestIndex_SearchUsesRecentPostings(t *testing.T) {
	seg := testSegmenter(t)
	ix := NewIndex()
	for i := int64(1); i <= 450; i++ {
		ix.AddDocument(seg, i, "garden")
	}
	hits := ix.Search(seg, "garden", 1000)
	if len(hits) != searchPostingCap {
		t.Fatalf("hits = %d, want %d", len(hits), searchPostingCap)
	}
	if hits[0].DocID != 450 || hits[len(hits)-1].DocID != 51 {
		t.Fatalf("range = %d..%d", hits[0].DocID, hits[len(hits)-1].DocID)
	}
}

func TestIndex_RoundTrip(t *testing.T) {
	seg := testSegmenter(t)
	path := filepath.Join(t.TempDir(), IndexFile)
	ix := NewIndex()
	ix.AddDocument(seg, 1, "coffee mornings")
	if err := ix.flush(path); err != nil {
		t.Fatalf("flush error: %v", err)
	}
	got, err := loadIndex(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if diff := cmp.Diff(ix, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
