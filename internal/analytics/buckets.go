package analytics

import (
	"strconv"

	"github.com/wfunc/pd-classroom/internal/chat"
)

// 分桶特征名
const (
	FeatureTrustWords     = "trust_words"
	FeatureSuspicionWords = "suspicion_words"
	FeatureStudentChars   = "student_chars"
)

// Bin 闭区间 [Min, Max]；Max 为 -1 表示无上界
type Bin struct {
	Label string
	Min   int
	Max   int
}

// Contains 值是否落在区间内
func (b Bin) Contains(v int) bool {
	return v >= b.Min && (b.Max < 0 || v <= b.Max)
}

// 固定分桶边界，相邻区间首尾相接
var (
	TrustBins = []Bin{
		{"0", 0, 0},
		{"1", 1, 1},
		{"2-3", 2, 3},
		{"4+", 4, -1},
	}
	SuspicionBins = []Bin{
		{"0", 0, 0},
		{"1", 1, 1},
		{"2+", 2, -1},
	}
	StudentCharsBins = []Bin{
		{"0-30", 0, 30},
		{"31-50", 31, 50},
		{"51-80", 51, 80},
		{"81-120", 81, 120},
		{"121-180", 121, 180},
		{"181-240", 181, 240},
		{"241-300", 241, 300},
		{"301-330", 301, 330},
		{"331+", 331, -1},
	}
)

// Bucket 单个分桶的样本数和学生合作率
type Bucket struct {
	Label    string   `json:"bucket"`
	N        int      `json:"n"`
	Decided  int      `json:"decided"`
	CoopRate *float64 `json:"coop_rate"`
}

// BucketSet 一个特征的全部分桶
type BucketSet struct {
	Feature string   `json:"feature"`
	Buckets []Bucket `json:"buckets"`
}

// BinIndex 返回值所在分桶的下标，不在任何分桶内返回 -1
func BinIndex(bins []Bin, v int) int {
	for i, b := range bins {
		if b.Contains(v) {
			return i
		}
	}
	return -1
}

type featureBuckets struct {
	feature  string
	bins     []Bin
	value    func(chat.Features) int
	counters []counter
}

type bucketSets []*featureBuckets

func newBucketSets() bucketSets {
	defs := []*featureBuckets{
		{feature: FeatureTrustWords, bins: TrustBins, value: func(f chat.Features) int { return f.TrustWords }},
		{feature: FeatureSuspicionWords, bins: SuspicionBins, value: func(f chat.Features) int { return f.SuspicionWords }},
		{feature: FeatureStudentChars, bins: StudentCharsBins, value: func(f chat.Features) int { return f.StudentChars }},
	}
	for _, d := range defs {
		d.counters = make([]counter, len(d.bins))
	}
	return defs
}

func (s bucketSets) add(row Row) {
	for _, fb := range s {
		i := BinIndex(fb.bins, fb.value(row.Features))
		if i < 0 {
			continue
		}
		fb.counters[i].n++
		fb.counters[i].addMove(row.StudentMove)
	}
}

func (s bucketSets) sets() []BucketSet {
	out := make([]BucketSet, 0, len(s))
	for _, fb := range s {
		set := BucketSet{Feature: fb.feature, Buckets: make([]Bucket, len(fb.bins))}
		for i, b := range fb.bins {
			c := fb.counters[i]
			set.Buckets[i] = Bucket{Label: b.Label, N: c.n, Decided: c.decided, CoopRate: c.coopRate()}
		}
		out = append(out, set)
	}
	return out
}

// String 调试输出
func (b Bin) String() string {
	if b.Max < 0 {
		return "[" + strconv.Itoa(b.Min) + ", +inf)"
	}
	return "[" + strconv.Itoa(b.Min) + ", " + strconv.Itoa(b.Max) + "]"
}
