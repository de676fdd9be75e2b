package pipeline

import (
	"context"
	"math"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"

	"github.com/facetlab/facet/pkg/document"
	"github.com/facetlab/facet/pkg/source"
)

var logger = testLogger()

func testLogger() logr.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(GinkgoWriter),
		zapcore.Level(-10),
	)
	return zapr.NewLogger(zap.New(core))
}

func TestPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline")
}

func compile(config string) *Pipeline {
	c, err := ParseConfig([]byte(config))
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	p, err := New(c, logger)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	return p
}

func run(config string, docs []document.Document) []document.Document {
	res, err := compile(config).Run(context.Background(), docs)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return res
}

var _ = Describe("Pipeline configuration", func() {
	It("should reject an unknown stage", func() {
		_, err := ParseConfig([]byte(`[{"@bogus": 1}]`))
		Expect(err).To(HaveOccurred())
	})

	It("should reject an empty pipeline", func() {
		_, err := New(Config{}, logger)
		Expect(err).To(HaveOccurred())
	})

	It("should reject an accumulator name conflicting with a group key", func() {
		c, err := ParseConfig([]byte(`
- "@group":
    by:
      k: "$.k"
    accumulate:
      k: {"@count": {}}`))
		Expect(err).NotTo(HaveOccurred())
		_, err = New(c, logger)
		Expect(err).To(HaveOccurred())
	})

	It("should reject a topN accumulator without sort keys", func() {
		c, err := ParseConfig([]byte(`
- "@group":
    by:
      k: "$.k"
    accumulate:
      top: {"@topN": {n: 3}}`))
		Expect(err).NotTo(HaveOccurred())
		_, err = New(c, logger)
		Expect(err).To(HaveOccurred())
	})

	It("should reject nested facets", func() {
		c, err := ParseConfig([]byte(`
- "@facet":
    inner:
      - "@facet":
          deepest:
            - "@limit": 1`))
		Expect(err).NotTo(HaveOccurred())
		_, err = New(c, logger)
		Expect(err).To(HaveOccurred())
	})

	It("should reject a negative limit", func() {
		c, err := ParseConfig([]byte(`[{"@limit": -1}]`))
		Expect(err).NotTo(HaveOccurred())
		_, err = New(c, logger)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Match stage", func() {
	config := `[{"@match": {"@gte": ["$.a", 10]}}]`

	It("should retain exactly the documents satisfying the predicate", func() {
		docs := []document.Document{{"a": int64(10)}, {"a": int64(3)}, {"a": int64(42)}}
		res := run(config, docs)
		Expect(res).To(HaveLen(2))
		Expect(res[0]["a"]).To(Equal(int64(10)))
		Expect(res[1]["a"]).To(Equal(int64(42)))
	})

	It("should drop documents lacking the filtered field", func() {
		docs := []document.Document{{"a": int64(10)}, {"b": int64(99)}}
		res := run(config, docs)
		Expect(res).To(HaveLen(1))
	})

	It("should never grow the input", func() {
		docs := []document.Document{{"a": int64(1)}, {"a": int64(100)}, {}}
		res := run(config, docs)
		Expect(len(res)).To(BeNumerically("<=", len(docs)))
	})
})

var _ = Describe("Set stage", func() {
	It("should run derivations in order, each seeing the previous ones", func() {
		config := `
- "@set":
    - double: {"@multiply": ["$.a", 2]}
    - quad: {"@multiply": ["$.double", 2]}`
		docs := []document.Document{{"a": int64(3)}}

		res := run(config, docs)
		Expect(res).To(HaveLen(1))
		Expect(res[0]["double"]).To(Equal(int64(6)))
		Expect(res[0]["quad"]).To(Equal(int64(12)))

		// the input document is never mutated
		Expect(docs[0]).NotTo(HaveKey("double"))
	})

	It("should coalesce absent fields", func() {
		config := `
- "@set":
    - v: {"@ifNull": ["$.missing", 0]}`
		res := run(config, []document.Document{{"a": int64(1)}})
		Expect(res[0]["v"]).To(Equal(int64(0)))
	})
})

var _ = Describe("Unwind stage", func() {
	It("should expand sequential unwinds as a cross product", func() {
		config := `
- "@unwind": "$.xs"
- "@unwind": "$.ys"`
		docs := []document.Document{{
			"xs": []any{"a", "b"},
			"ys": []any{int64(1), int64(2), int64(3)},
		}}

		res := run(config, docs)
		Expect(res).To(HaveLen(6))
		Expect(res[0]["xs"]).To(Equal("a"))
		Expect(res[0]["ys"]).To(Equal(int64(1)))
		Expect(res[5]["xs"]).To(Equal("b"))
		Expect(res[5]["ys"]).To(Equal(int64(3)))
	})

	It("should drop documents with an empty array by default", func() {
		config := `[{"@unwind": "$.xs"}]`
		res := run(config, []document.Document{{"xs": []any{}}, {}})
		Expect(res).To(BeEmpty())
	})

	It("should keep one copy with a null field when preserveEmpty is set", func() {
		config := `[{"@unwind": {path: "$.xs", preserveEmpty: true}}]`
		res := run(config, []document.Document{{"a": int64(1)}})
		Expect(res).To(HaveLen(1))
		Expect(res[0]).To(HaveKey("xs"))
		Expect(res[0]["xs"]).To(BeNil())
	})

	It("should treat a scalar field as a single-element array", func() {
		config := `[{"@unwind": "$.xs"}]`
		res := run(config, []document.Document{{"xs": "solo"}})
		Expect(res).To(HaveLen(1))
		Expect(res[0]["xs"]).To(Equal("solo"))
	})
})

var _ = Describe("Group stage", func() {
	It("should group by a composite key and count contributions", func() {
		config := `
- "@group":
    by:
      g: "$.g"
      h: "$.h"
    accumulate:
      n: {"@count": {}}`
		docs := []document.Document{
			{"g": "x", "h": int64(1)},
			{"g": "x", "h": int64(1)},
			{"g": "x", "h": int64(2)},
			{"g": "y", "h": int64(1)},
		}

		res := run(config, docs)
		Expect(res).To(HaveLen(3))

		// groups are emitted in arrival order
		Expect(res[0]["g"]).To(Equal("x"))
		Expect(res[0]["h"]).To(Equal(int64(1)))
		Expect(res[0]["n"]).To(Equal(int64(2)))
		Expect(res[1]["n"]).To(Equal(int64(1)))
		Expect(res[2]["g"]).To(Equal("y"))
	})

	It("should average only the non-absent contributions", func() {
		config := `
- "@group":
    by:
      g: "$.g"
    accumulate:
      n: {"@count": {}}
      total: {"@sum": "$.v"}
      mean: {"@avg": "$.v"}`
		docs := []document.Document{
			{"g": "x", "v": int64(1)},
			{"g": "x", "v": nil},
			{"g": "x"},
			{"g": "x", "v": 2.0},
		}

		res := run(config, docs)
		Expect(res).To(HaveLen(1))
		Expect(res[0]["n"]).To(Equal(int64(4)))
		Expect(res[0]["total"]).To(Equal(3.0))
		Expect(res[0]["mean"]).To(Equal(1.5))
	})

	It("should compute the population standard deviation in one pass", func() {
		config := `
- "@group":
    by:
      g: "$.g"
    accumulate:
      spread: {"@stdDevPop": "$.v"}`
		docs := []document.Document{
			{"g": "x", "v": int64(2)},
			{"g": "x", "v": int64(4)},
			{"g": "x", "v": 6.0},
			{"g": "x", "v": int64(8)},
		}

		res := run(config, docs)
		Expect(res).To(HaveLen(1))
		// mean 5, squared deviations 9+1+1+9, variance 5
		Expect(res[0]["spread"]).To(BeNumerically("~", math.Sqrt(5), 1e-12))
	})

	It("should omit the average of a group with no contributions", func() {
		config := `
- "@group":
    by:
      g: "$.g"
    accumulate:
      mean: {"@avg": "$.v"}`
		res := run(config, []document.Document{{"g": "x"}})
		Expect(res).To(HaveLen(1))
		Expect(res[0]).NotTo(HaveKey("mean"))
	})

	It("should not merge an absent key field with a true null", func() {
		config := `
- "@group":
    by:
      k: "$.k"
    accumulate:
      n: {"@count": {}}`
		docs := []document.Document{
			{"k": nil, "v": int64(1)},
			{"v": int64(2)},
		}

		res := run(config, docs)
		Expect(res).To(HaveLen(2))
		Expect(res[0]).To(HaveKey("k"))
		Expect(res[1]).NotTo(HaveKey("k"))
	})

	It("should deduplicate set members and keep push duplicates", func() {
		config := `
- "@group":
    by:
      g: "$.g"
    accumulate:
      set: {"@addToSet": "$.v"}
      all: {"@push": "$.v"}`
		docs := []document.Document{
			{"g": "x", "v": "a"},
			{"g": "x", "v": "b"},
			{"g": "x", "v": "a"},
		}

		res := run(config, docs)
		Expect(res[0]["set"]).To(Equal([]any{"a", "b"}))
		Expect(res[0]["all"]).To(Equal([]any{"a", "b", "a"}))
	})

	It("should yield an empty sequence on empty input", func() {
		config := `
- "@group":
    by:
      g: "$.g"
    accumulate:
      n: {"@count": {}}`
		res := run(config, []document.Document{})
		Expect(res).To(BeEmpty())
	})
})

var _ = Describe("TopN retention", func() {
	config := `
- "@group":
    by:
      all: "everything"
    accumulate:
      top:
        "@topN":
          n: 2
          sortBy:
            - {key: "$.score"}
          output:
            name: "$.name"`

	It("should retain exactly the n highest, ties broken by arrival order", func() {
		docs := []document.Document{
			{"name": "a", "score": int64(5)},
			{"name": "b", "score": int64(3)},
			{"name": "c", "score": int64(5)},
			{"name": "d", "score": int64(1)},
		}

		res := run(config, docs)
		Expect(res).To(HaveLen(1))
		Expect(res[0]["top"]).To(Equal([]any{
			map[string]any{"name": "a"},
			map[string]any{"name": "c"},
		}))
	})

	It("should never displace an equal-ranked earlier arrival", func() {
		docs := []document.Document{
			{"name": "a", "score": int64(7)},
			{"name": "b", "score": int64(7)},
			{"name": "c", "score": int64(7)},
		}

		res := run(config, docs)
		Expect(res[0]["top"]).To(Equal([]any{
			map[string]any{"name": "a"},
			map[string]any{"name": "b"},
		}))
	})

	It("should retain the lowest entries under an ascending key", func() {
		asc := `
- "@group":
    by:
      all: "everything"
    accumulate:
      top:
        "@topN":
          n: 2
          sortBy:
            - {key: "$.score", order: asc}
          output:
            name: "$.name"`
		docs := []document.Document{
			{"name": "a", "score": int64(5)},
			{"name": "b", "score": int64(3)},
			{"name": "c", "score": int64(5)},
			{"name": "d", "score": int64(1)},
		}

		res := run(asc, docs)
		Expect(res[0]["top"]).To(Equal([]any{
			map[string]any{"name": "d"},
			map[string]any{"name": "b"},
		}))
	})

	It("should keep whole member documents without an output shape", func() {
		raw := `
- "@group":
    by:
      all: "everything"
    accumulate:
      top:
        "@topN":
          n: 1
          sortBy:
            - {key: "$.score"}`
		docs := []document.Document{
			{"name": "a", "score": int64(1)},
			{"name": "b", "score": int64(9)},
		}

		res := run(raw, docs)
		top := res[0]["top"].([]any)
		Expect(top).To(HaveLen(1))
		Expect(top[0].(map[string]any)["name"]).To(Equal("b"))
	})
})

var _ = Describe("Sort, limit and project stages", func() {
	It("should sort ascending by default and keep ties stable", func() {
		config := `[{"@sort": [{key: "$.a"}]}]`
		docs := []document.Document{
			{"a": int64(2), "tag": "first"},
			{"a": int64(1)},
			{"a": int64(2), "tag": "second"},
		}

		res := run(config, docs)
		Expect(res[0]["a"]).To(Equal(int64(1)))
		Expect(res[1]["tag"]).To(Equal("first"))
		Expect(res[2]["tag"]).To(Equal("second"))
	})

	It("should honor mixed per-key directions", func() {
		config := `[{"@sort": [{key: "$.a", order: desc}, {key: "$.b", order: asc}]}]`
		docs := []document.Document{
			{"a": int64(1), "b": int64(2)},
			{"a": int64(2), "b": int64(2)},
			{"a": int64(2), "b": int64(1)},
		}

		res := run(config, docs)
		Expect(res[0]["b"]).To(Equal(int64(1)))
		Expect(res[1]["b"]).To(Equal(int64(2)))
		Expect(res[2]["a"]).To(Equal(int64(1)))
	})

	It("should truncate at the limit", func() {
		config := `[{"@limit": 2}]`
		docs := []document.Document{{"a": int64(1)}, {"a": int64(2)}, {"a": int64(3)}}
		Expect(run(config, docs)).To(HaveLen(2))

		config = `[{"@limit": 10}]`
		Expect(run(config, docs)).To(HaveLen(3))
	})

	It("should shape documents through a projection", func() {
		config := `
- "@project":
    id: "$.name"
    score: "$.deep.score"`
		docs := []document.Document{{"name": "a", "deep": map[string]any{"score": int64(9)}, "junk": true}}

		res := run(config, docs)
		Expect(res[0]).To(Equal(document.Document{"id": "a", "score": int64(9)}))
	})
})

var _ = Describe("Facet stage", func() {
	config := `
- "@facet":
    evens:
      - "@match": {"@in": ["$.a", [2, 4]]}
    sorted:
      - "@sort": [{key: "$.a", order: desc}]
      - "@limit": 2`

	docs := []document.Document{{"a": int64(1)}, {"a": int64(2)}, {"a": int64(3)}, {"a": int64(4)}}

	It("should produce one named result list per facet", func() {
		res := run(config, docs)
		Expect(res).To(HaveLen(1))

		out := res[0]
		Expect(out).To(HaveKey("sorted"))
		Expect(out["evens"].([]any)).To(HaveLen(2))

		sorted := out["sorted"].([]any)
		Expect(sorted).To(HaveLen(2))
		Expect(sorted[0].(map[string]any)["a"]).To(Equal(int64(4)))
	})

	It("should leave the shared input untouched", func() {
		res := run(config, docs)
		Expect(res).To(HaveLen(1))
		Expect(docs[0]["a"]).To(Equal(int64(1)))
		Expect(docs[3]["a"]).To(Equal(int64(4)))
	})

	It("should be independent across facets", func() {
		// the sorted facet must come out the same with and without a sibling
		solo := `
- "@facet":
    sorted:
      - "@sort": [{key: "$.a", order: desc}]
      - "@limit": 2`

		both := run(config, docs)[0]["sorted"]
		alone := run(solo, docs)[0]["sorted"]
		Expect(both).To(Equal(alone))
	})

	It("should surface a facet failure as an error marker while siblings complete", func() {
		failing := `
- "@facet":
    bad:
      - "@project":
          v: {"@sqrt": -1}
    good:
      - "@limit": 1`

		p := compile(failing).WithStrict(true)
		res, err := p.Run(context.Background(), docs)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(1))

		bad := res[0]["bad"].(map[string]any)
		Expect(bad).To(HaveKey("error"))
		Expect(res[0]["good"].([]any)).To(HaveLen(1))
	})
})

var _ = Describe("Error policy", func() {
	config := `
- "@set":
    - root: {"@sqrt": "$.a"}`

	It("should drop failing documents in lenient mode", func() {
		docs := []document.Document{{"a": int64(4)}, {"a": int64(-1)}}
		res := run(config, docs)
		Expect(res).To(HaveLen(1))
		Expect(res[0]["root"]).To(Equal(2.0))
	})

	It("should abort the run in strict mode", func() {
		docs := []document.Document{{"a": int64(4)}, {"a": int64(-1)}}
		p := compile(config).WithStrict(true)
		_, err := p.Run(context.Background(), docs)
		Expect(err).To(HaveOccurred())
	})

	It("should abort on a canceled context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p := compile(`[{"@limit": 1}]`)
		_, err := p.Run(ctx, []document.Document{{"a": int64(1)}})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Source streaming", func() {
	It("should stream a source through the linear prefix into a group", func() {
		config := `
- "@match": {"@gte": ["$.v", 0]}
- "@unwind": "$.tags"
- "@group":
    by:
      tag: "$.tags"
    accumulate:
      n: {"@count": {}}
      total: {"@sum": "$.v"}`

		src := source.NewSliceSource("test", []document.Document{
			{"v": int64(1), "tags": []any{"x", "y"}},
			{"v": int64(2), "tags": []any{"x"}},
			{"v": int64(-5), "tags": []any{"z"}},
		})

		res, err := compile(config).RunSource(context.Background(), src)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(2))
		Expect(res[0]["tag"]).To(Equal("x"))
		Expect(res[0]["n"]).To(Equal(int64(2)))
		Expect(res[0]["total"]).To(Equal(int64(3)))
		Expect(res[1]["tag"]).To(Equal("y"))
	})

	It("should abort the whole run on a source failure", func() {
		src := &failingSource{}
		_, err := compile(`[{"@limit": 10}]`).RunSource(context.Background(), src)
		Expect(err).To(HaveOccurred())
	})
})

type failingSource struct{}

func (s *failingSource) Name() string { return "failing" }

func (s *failingSource) Next(context.Context) (map[string]any, error) {
	return nil, source.NewSourceError("failing", context.DeadlineExceeded)
}

func (s *failingSource) Close() error { return nil }
