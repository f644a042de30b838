package render

import (
	"sync"

	"github.com/apk-analysis/dex-image-go/internal/dex"
	"github.com/apk-analysis/dex-image-go/internal/domain"
)

// BatchStats 批次级别的统计累加器
//
// 由 Driver 在一个批次内共享，worker 并发写入。
type BatchStats struct {
	mu           sync.Mutex
	seen         int
	rendered     int
	skipped      int
	failed       int
	cancelled    int
	dexEntries   int
	dexBytes     int64
	sectionBytes map[string]int64
}

// BatchSummary BatchStats 的只读快照
type BatchSummary struct {
	Containers   int              `json:"containers"`
	Rendered     int              `json:"rendered"`
	Skipped      int              `json:"skipped"`
	Failed       int              `json:"failed"`
	Cancelled    int              `json:"cancelled"`
	DexEntries   int              `json:"dex_entries"`
	DexBytes     int64            `json:"dex_bytes"`
	SectionBytes map[string]int64 `json:"section_bytes"`
}

// NewBatchStats 创建累加器
func NewBatchStats() *BatchStats {
	return &BatchStats{sectionBytes: make(map[string]int64)}
}

// AddSections 累加一个 DEX 的段长度
func (s *BatchStats) AddSections(sections []dex.Section, blobLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dexEntries++
	s.dexBytes += int64(blobLen)
	for _, sec := range sections {
		s.sectionBytes[sec.Name] += int64(sec.Len())
	}
}

// AddResult 按容器结果计数
func (s *BatchStats) AddResult(status domain.RenderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen++
	switch status {
	case domain.RenderStatusRendered:
		s.rendered++
	case domain.RenderStatusSkipped:
		s.skipped++
	case domain.RenderStatusCancelled:
		s.cancelled++
	default:
		s.failed++
	}
}

// Snapshot 返回当前统计
func (s *BatchStats) Snapshot() BatchSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sections := make(map[string]int64, len(s.sectionBytes))
	for k, v := range s.sectionBytes {
		sections[k] = v
	}
	return BatchSummary{
		Containers:   s.seen,
		Rendered:     s.rendered,
		Skipped:      s.skipped,
		Failed:       s.failed,
		Cancelled:    s.cancelled,
		DexEntries:   s.dexEntries,
		DexBytes:     s.dexBytes,
		SectionBytes: sections,
	}
}
