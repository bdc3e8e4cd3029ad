// Package ranker scores candidate documents by term frequency and selects
// the best N.
package ranker

import (
	"container/heap"
	"sort"

	"github.com/forsc/docsearch/internal/indexer/index"
)

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Rank scores every document that appears in any of the posting lists
// (OR semantics). A document's score is the sum of its frequencies across
// the lists. Results are ordered by score descending, then DocID ascending,
// and cut to limit. It also returns the number of matching documents.
func Rank(postingsPerTerm map[string]index.PostingList, limit int) ([]ScoredDoc, int) {
	scores := make(map[string]float64)
	for _, postings := range postingsPerTerm {
		for _, p := range postings {
			scores[p.DocID] += float64(p.Frequency)
		}
	}
	total := len(scores)
	if limit <= 0 || total == 0 {
		return []ScoredDoc{}, total
	}
	if limit >= total {
		result := make([]ScoredDoc, 0, total)
		for docID, score := range scores {
			result = append(result, ScoredDoc{DocID: docID, Score: score})
		}
		sort.Slice(result, func(i, j int) bool { return better(result[i], result[j]) })
		return result, total
	}
	return topN(scores, limit), total
}

// better reports whether a ranks ahead of b.
func better(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// topN keeps the limit best documents in a min-heap whose root is the worst
// of those kept.
func topN(scores map[string]float64, limit int) []ScoredDoc {
	h := make(scoredDocHeap, 0, limit+1)
	for docID, score := range scores {
		doc := ScoredDoc{DocID: docID, Score: score}
		if h.Len() < limit {
			heap.Push(&h, doc)
			continue
		}
		if better(doc, h[0]) {
			h[0] = doc
			heap.Fix(&h, 0)
		}
	}
	result := make([]ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ScoredDoc)
	}
	return result
}

type scoredDocHeap []ScoredDoc

func (h scoredDocHeap) Len() int           { return len(h) }
func (h scoredDocHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h scoredDocHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
