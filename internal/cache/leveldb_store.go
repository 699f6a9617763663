package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// NewLevelDBStore 以 basePath 为根目录构建 leveldb 分区存储，
// 每个分区对应一个独立的 leveldb 数据库目录，句柄按需打开并复用。
func NewLevelDBStore(basePath string) (Store, error) {
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

	return &levelStore{
		basePath: abs,
		dbs:      make(map[string]*leveldb.DB),
	}, nil
}

type levelStore struct {
	basePath string

	mu  sync.Mutex
	dbs map[string]*leveldb.DB
}

// levelRecord 是写入 leveldb 的单条记录；body 随 JSON base64 编码。
type levelRecord struct {
	StoredResponse
	Key string `json:"key"`
}

const recordPrefix = "e:"

func (s *levelStore) Open(ctx context.Context, partition string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.openDB(partition, true)
	return err
}

func (s *levelStore) Get(ctx context.Context, partition, key string) (*StoredResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := s.openDB(partition, false)
	if err != nil {
		return nil, err
	}

	raw, err := db.Get([]byte(recordPrefix+entryName(key)), nil)
	if err != nil {
		if errors.Is(err, ldberrors.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var record levelRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	return record.StoredResponse.Clone(), nil
}

func (s *levelStore) Put(ctx context.Context, partition, key string, resp *StoredResponse) error {
	if resp == nil {
		return errors.New("nil response")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.openDB(partition, true)
	if err != nil {
		return err
	}

	record := levelRecord{StoredResponse: *resp.Clone(), Key: key}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(recordPrefix+entryName(key)), raw)
	return db.Write(batch, nil)
}

func (s *levelStore) Delete(ctx context.Context, partition, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.openDB(partition, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(recordPrefix + entryName(key)))
	return db.Write(batch, nil)
}

func (s *levelStore) Keys(ctx context.Context, partition string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := s.openDB(partition, false)
	if err != nil {
		return nil, err
	}

	it := db.NewIterator(util.BytesPrefix([]byte(recordPrefix)), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		var record levelRecord
		if err := json.Unmarshal(it.Value(), &record); err != nil {
			continue
		}
		keys = append(keys, record.Key)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *levelStore) List(ctx context.Context) ([]string, error) {
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

func (s *levelStore) Drop(ctx context.Context, partition string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.partitionDir(partition)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if db, ok := s.dbs[partition]; ok {
		_ = db.Close()
		delete(s.dbs, partition)
	}
	s.mu.Unlock()

	return os.RemoveAll(dir)
}

func (s *levelStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, name)
	}
	return firstErr
}

// openDB 返回分区对应的 leveldb 句柄；create=false 且目录不存在时返回 ErrNotFound，
// 避免 Get/Keys 把尚未安装的分区凭空建出来。
func (s *levelStore) openDB(partition string, create bool) (*leveldb.DB, error) {
	dir, err := s.partitionDir(partition)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[partition]; ok {
		return db, nil
	}

	if !create {
		if _, err := os.Stat(dir); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, ErrNotFound
			}
			return nil, err
		}
	}

	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", partition, err)
	}
	s.dbs[partition] = db
	return db, nil
}

func (s *levelStore) partitionDir(partition string) (string, error) {
	if partition == "" {
		return "", errors.New("partition name required")
	}
	if strings.ContainsAny(partition, "/\\") {
		return "", errors.New("invalid partition name")
	}
	return filepath.Join(s.basePath, partition), nil
}
