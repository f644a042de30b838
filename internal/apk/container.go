// Package apk 读取 APK 容器（zip 格式）中的 DEX 条目。
package apk

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ContainerExt APK 容器扩展名
	ContainerExt = ".apk"
	// DexExt DEX 条目扩展名
	DexExt = ".dex"

	// MaxDexSize 单个 DEX 条目解压后的上限
	MaxDexSize = 512 << 20
)

// ErrContainerRead 容器不是合法 zip 或条目无法读取
var ErrContainerRead = errors.New("container read error")

// DexEntry APK 中的一个 DEX 条目
type DexEntry struct {
	Name string
	Data []byte
}

// IsContainer 文件名是否以 APK 扩展名结尾
func IsContainer(name string) bool {
	return strings.HasSuffix(name, ContainerExt)
}

// IsDex 条目名是否以 DEX 扩展名结尾
func IsDex(name string) bool {
	return strings.HasSuffix(name, DexExt)
}

// ListContainers 列出目录下（不递归）所有 APK 文件的完整路径
func ListContainers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsContainer(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

// OutputName 把容器扩展名替换为图片扩展名
func OutputName(containerPath, imageExt string) string {
	base := filepath.Base(containerPath)
	return strings.TrimSuffix(base, ContainerExt) + imageExt
}

// ReadDexEntries 按 zip 中央目录顺序读取所有 DEX 条目
//
// 顺序不做排序，多 DEX 图片的拼接顺序依赖这里。
func ReadDexEntries(path string) ([]DexEntry, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s as zip: %v", ErrContainerRead, filepath.Base(path), err)
	}
	defer reader.Close()

	return readDexFiles(reader.File)
}

func readDexFiles(files []*zip.File) ([]DexEntry, error) {
	var entries []DexEntry
	for _, f := range files {
		if f.FileInfo().IsDir() || !IsDex(f.Name) {
			continue
		}

		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DexEntry{Name: f.Name, Data: data})
	}
	return entries, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > MaxDexSize {
		return nil, fmt.Errorf("%w: entry %s too large (%d bytes)", ErrContainerRead, f.Name, f.UncompressedSize64)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open entry %s: %v", ErrContainerRead, f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxDexSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read entry %s: %v", ErrContainerRead, f.Name, err)
	}
	if len(data) > MaxDexSize {
		return nil, fmt.Errorf("%w: entry %s exceeds %d bytes", ErrContainerRead, f.Name, MaxDexSize)
	}
	return data, nil
}
