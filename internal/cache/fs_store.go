package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NewFSStore 以 basePath 为根目录构建文件系统分区存储，整站复用一份实例。
// 磁盘布局：<basePath>/<partition>/<sha1(key)>.meta + .body。
func NewFSStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// entryMeta 是落盘的条目头：原始 key 用于 Keys 枚举，其余字段还原响应。
type entryMeta struct {
	Key      string              `json:"key"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	StoredAt time.Time           `json:"stored_at"`
}

func (s *fileStore) Open(ctx context.Context, partition string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.partitionDir(partition)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *fileStore) Get(ctx context.Context, partition, key string) (*StoredResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metaPath, bodyPath, err := s.entryPaths(partition, key)
	if err != nil {
		return nil, err
	}

	rawMeta, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var meta entryMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("decode cache meta: %w", err)
	}

	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &StoredResponse{
		Status:   meta.Status,
		Header:   meta.Header,
		Body:     body,
		StoredAt: meta.StoredAt,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, partition, key string, resp *StoredResponse) error {
	if resp == nil {
		return errors.New("nil response")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lockEntry(partition, key)
	defer unlock()

	metaPath, bodyPath, err := s.entryPaths(partition, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return err
	}

	meta := entryMeta{
		Key:      key,
		Status:   resp.Status,
		Header:   resp.Header,
		StoredAt: resp.StoredAt.UTC(),
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	if err := writeAtomic(bodyPath, resp.Body); err != nil {
		return err
	}
	if err := writeAtomic(metaPath, rawMeta); err != nil {
		// body 已落盘但 meta 失败时回收 body，避免产生无头条目。
		os.Remove(bodyPath)
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, partition, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lockEntry(partition, key)
	defer unlock()

	metaPath, bodyPath, err := s.entryPaths(partition, key)
	if err != nil {
		return err
	}
	for _, p := range []string{metaPath, bodyPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *fileStore) Keys(ctx context.Context, partition string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.partitionDir(partition)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta") {
			continue
		}
		rawMeta, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var meta entryMeta
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			continue
		}
		keys = append(keys, meta.Key)
	}
	return keys, nil
}

func (s *fileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (s *fileStore) Drop(ctx context.Context, partition string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.partitionDir(partition)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockEntry(partition, key string) func() {
	lockKey := partition + "::" + key
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) partitionDir(partition string) (string, error) {
	if partition == "" {
		return "", errors.New("partition name required")
	}
	if strings.ContainsAny(partition, "/\\") {
		return "", errors.New("invalid partition name")
	}
	return filepath.Join(s.basePath, partition), nil
}

func (s *fileStore) entryPaths(partition, key string) (metaPath, bodyPath string, err error) {
	dir, err := s.partitionDir(partition)
	if err != nil {
		return "", "", err
	}
	name := entryName(key)
	return filepath.Join(dir, name+".meta"), filepath.Join(dir, name+".body"), nil
}

// entryName 把任意长度的 RequestKey 压缩成固定长度文件名。
func entryName(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// writeAtomic 通过临时文件 + rename 保证读方永远看不到半截文件。
func writeAtomic(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return writeErr
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
