package dex

import (
	"encoding/binary"
)

// HeaderSize DEX 文件头固定长度 (0x70)
const HeaderSize = 0x70

// 段名称，按文件内固定顺序排列
const (
	SectionHeader    = "header"
	SectionStringIDs = "string_ids"
	SectionTypeIDs   = "type_ids"
	SectionProtoIDs  = "proto_ids"
	SectionFieldIDs  = "field_ids"
	SectionMethodIDs = "method_ids"
	SectionClassDefs = "class_defs"
	SectionData      = "data"
)

// SectionCount 每个 DEX 固定的段数量
const SectionCount = 8

// Section DEX 中的一个结构化字节区间
//
// Bytes 是原始 blob 的子切片（只读视图），不做拷贝。
type Section struct {
	Name            string
	Offset          uint32 // 截断后的起始偏移, Offset+Len() <= len(blob)
	DeclaredOffset  uint32 // 头部声明的原始偏移
	DeclaredSize    uint32 // 头部声明的条目数量
	HasDeclaredSize bool   // header 段没有声明大小
	ItemWidth       int    // 单个条目的字节数, data 段为 0
	Bytes           []byte
}

// Len 段长度（字节）
func (s Section) Len() int {
	return len(s.Bytes)
}

// Empty 段是否为空
func (s Section) Empty() bool {
	return len(s.Bytes) == 0
}

// sectionLayout 头部中 offset/size 字段的位置
type sectionLayout struct {
	name      string
	offField  int
	sizeField int
	itemWidth int // 0 表示延伸到文件末尾
}

// 与 https://source.android.com/docs/core/runtime/dex-format#header-item 一致。
// data 段的 size 字段会被读取，但边界只看 offset，一直延伸到文件末尾。
var sectionTable = []sectionLayout{
	{SectionStringIDs, 0x38, 0x3C, 4},
	{SectionTypeIDs, 0x40, 0x44, 4},
	{SectionProtoIDs, 0x48, 0x4C, 12},
	{SectionFieldIDs, 0x50, 0x54, 8},
	{SectionMethodIDs, 0x58, 0x5C, 8},
	{SectionClassDefs, 0x60, 0x64, 32},
	{SectionData, 0x6C, 0x68, 0},
}

// SectionNames 返回固定顺序的段名称
func SectionNames() []string {
	names := make([]string, 0, SectionCount)
	names = append(names, SectionHeader)
	for _, l := range sectionTable {
		names = append(names, l.name)
	}
	return names
}

// ExtractSections 从原始 DEX 字节中切出 8 个结构段
//
// 不校验 DEX 合法性：越界读取按 0 处理，越界切片按文件长度截断。
// blob 不足 0x70 字节时 header 被截断，其余段全部为空。
func ExtractSections(blob []byte) []Section {
	sections := make([]Section, 0, SectionCount)
	sections = append(sections, Section{
		Name:  SectionHeader,
		Bytes: clampSlice(blob, 0, HeaderSize),
	})

	truncated := len(blob) < HeaderSize

	for _, l := range sectionTable {
		sec := Section{
			Name:            l.name,
			HasDeclaredSize: true,
			ItemWidth:       l.itemWidth,
		}
		if truncated {
			sec.Bytes = blob[:0]
			sections = append(sections, sec)
			continue
		}

		sec.DeclaredOffset = readU32(blob, l.offField)
		sec.DeclaredSize = readU32(blob, l.sizeField)

		start := uint64(sec.DeclaredOffset)
		var end uint64
		if l.itemWidth == 0 {
			end = uint64(len(blob))
		} else {
			end = start + uint64(sec.DeclaredSize)*uint64(l.itemWidth)
		}
		sec.Bytes = clampSlice(blob, start, end)
		if start > uint64(len(blob)) {
			start = uint64(len(blob))
		}
		sec.Offset = uint32(start)
		sections = append(sections, sec)
	}

	return sections
}

// readU32 读取小端 uint32，越界返回 0
func readU32(blob []byte, off int) uint32 {
	if off < 0 || off+4 > len(blob) {
		return 0
	}
	return binary.LittleEndian.Uint32(blob[off : off+4])
}

// clampSlice 返回 blob[start:end]，两端都截断到 blob 长度
func clampSlice(blob []byte, start, end uint64) []byte {
	n := uint64(len(blob))
	if start > n {
		start = n
	}
	if end > n {
		end = n
	}
	if end < start {
		end = start
	}
	return blob[start:end:end]
}
