package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"veloxcache/pkg/core"
	"veloxcache/pkg/logger"

	"github.com/sirupsen/logrus"
)

const indexFileName = "index.json"

// DiskConfig 磁盘存储配置
type DiskConfig struct {
	// Dir 数据目录，不存在时自动创建
	Dir string `yaml:"dir" mapstructure:"dir" json:"dir"`
}

// DiskStorage 基于本地文件系统的存储实现。
// 每个键对应一个数据文件，文件名由键的 SHA-256 摘要派生，
// 键到文件名的映射持久化在 index.json 中。所有文件写入都采用
// 先写临时文件再原子重命名的方式，避免留下写了一半的文件。
type DiskStorage struct {
	mu     sync.RWMutex
	dir    string
	index  map[string]string // 键 -> 数据文件名
	closed bool
	log    *logrus.Entry
}

var _ Storage = (*DiskStorage)(nil)

// NewDiskStorage 创建磁盘存储并加载已有索引
func NewDiskStorage(config DiskConfig) (*DiskStorage, error) {
	if config.Dir == "" {
		return nil, core.NewVeloxError(core.ErrConfigInvalid, "disk storage dir is required")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, core.WrapError(core.ErrStorageIO, "failed to create storage dir", err)
	}

	s := &DiskStorage{
		dir:   config.Dir,
		index: make(map[string]string),
		log:   logger.WithComponent("disk-storage"),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Read 读取键对应的值。索引中存在但数据文件丢失时，
// 清理索引项并按键不存在处理。
func (s *DiskStorage) Read(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", core.NewVeloxError(core.ErrResourceClosed, "disk storage is closed")
	}
	fileName, ok := s.index[key]
	if !ok {
		return "", core.NewVeloxError(core.ErrStorageMiss, "key not found").WithContext("key", key)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warnf("data file missing for key %s, dropping index entry", key)
			delete(s.index, key)
			if saveErr := s.saveIndexLocked(); saveErr != nil {
				s.log.WithError(saveErr).Warn("failed to persist index after repair")
			}
			return "", core.NewVeloxError(core.ErrStorageMiss, "key not found").WithContext("key", key)
		}
		return "", core.WrapError(core.ErrStorageIO, "failed to read data file", err).WithContext("key", key)
	}
	return string(data), nil
}

// Write 写入键值
func (s *DiskStorage) Write(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewVeloxError(core.ErrResourceClosed, "disk storage is closed")
	}

	fileName := dataFileName(key)
	if err := s.atomicWrite(fileName, []byte(value)); err != nil {
		return core.WrapError(core.ErrStorageIO, "failed to write data file", err).WithContext("key", key)
	}
	s.index[key] = fileName
	if err := s.saveIndexLocked(); err != nil {
		return err
	}
	return nil
}

// Remove 移除键，键不存在时返回 nil
func (s *DiskStorage) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewVeloxError(core.ErrResourceClosed, "disk storage is closed")
	}
	fileName, ok := s.index[key]
	if !ok {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, fileName)); err != nil && !os.IsNotExist(err) {
		return core.WrapError(core.ErrStorageIO, "failed to remove data file", err).WithContext("key", key)
	}
	delete(s.index, key)
	return s.saveIndexLocked()
}

// Keys 返回全部键，顺序不定
func (s *DiskStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.NewVeloxError(core.ErrResourceClosed, "disk storage is closed")
	}
	keys := make([]string, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	return keys, nil
}

// Clear 清空全部键值和数据文件
func (s *DiskStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewVeloxError(core.ErrResourceClosed, "disk storage is closed")
	}
	for key, fileName := range s.index {
		if err := os.Remove(filepath.Join(s.dir, fileName)); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).Warnf("failed to remove data file for key %s", key)
		}
	}
	s.index = make(map[string]string)
	return s.saveIndexLocked()
}

// ContainsKey 判断键是否存在
func (s *DiskStorage) ContainsKey(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, core.NewVeloxError(core.ErrResourceClosed, "disk storage is closed")
	}
	_, ok := s.index[key]
	return ok, nil
}

// Close 持久化索引并关闭存储，幂等
func (s *DiskStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	err := s.saveIndexLocked()
	s.closed = true
	return err
}

// Dir 返回数据目录
func (s *DiskStorage) Dir() string {
	return s.dir
}

// dataFileName 由键的 SHA-256 摘要派生数据文件名，任意键都能安全落盘
func dataFileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".dat"
}

// atomicWrite 先写临时文件再重命名
func (s *DiskStorage) atomicWrite(fileName string, data []byte) error {
	target := filepath.Join(s.dir, fileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *DiskStorage) loadIndex() error {
	path := filepath.Join(s.dir, indexFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return core.WrapError(core.ErrStorageIO, "failed to read index file", err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return core.WrapError(core.ErrDeserializeFailed, fmt.Sprintf("corrupt index file %s", path), err)
	}
	return nil
}

func (s *DiskStorage) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return core.WrapError(core.ErrSerializeFailed, "failed to marshal index", err)
	}
	if err := s.atomicWrite(indexFileName, data); err != nil {
		return core.WrapError(core.ErrStorageIO, "failed to write index file", err)
	}
	return nil
}
