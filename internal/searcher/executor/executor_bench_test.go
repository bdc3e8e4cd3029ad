package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

var benchVocabulary = strings.Fields("search index query document term posting segment field score rank cache upload")

func benchCorpus(n int) map[string]string {
	docs := make(map[string]string, n)
	for i := 0; i < n; i++ {
		words := make([]string, 0, 40)
		for j := 0; j < 40; j++ {
			words = append(words, benchVocabulary[(i*7+j*3)%len(benchVocabulary)])
		}
		docs[fmt.Sprintf("doc-%05d.txt", i)] = strings.Join(words, " ")
	}
	return docs
}

func BenchmarkQuery(b *testing.B) {
	for _, n := range []int{100, 1000, 10000} {
		e := newExecutor(b, benchCorpus(n))
		b.Run(fmt.Sprintf("docs_%d", n), func(b *testing.B) {
			ctx := context.Background()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := e.Query(ctx, "search posting cache", "", 10); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkQueryParallel(b *testing.B) {
	e := newExecutor(b, benchCorpus(5000))
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := e.Query(ctx, "index term", "", 10); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
