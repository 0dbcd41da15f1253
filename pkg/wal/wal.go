package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// 常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀)
	FileModeReadOnly fs.FileMode = 0644

	// rwx------ (只有擁有者) - 適用於資料目錄
	DirModePrivate fs.FileMode = 0700
)

// WAL 以 JSON Lines 格式附加寫入的日誌檔
type WAL struct {
	file *os.File
	mu   sync.Mutex
	// 每次 Write 後是否 fsync
	syncOnWrite bool
	logger      *zap.Logger
}

// Option 設定 WAL
type Option func(*WAL)

// WithoutSync 關閉每筆 fsync (測試或可容忍遺失時使用)
func WithoutSync() Option {
	return func(w *WAL) {
		w.syncOnWrite = false
	}
}

// WithLogger 記錄截斷殘缺紀錄等事件
func WithLogger(logger *zap.Logger) Option {
	return func(w *WAL) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWAL 開啟或建立一個 WAL 檔案，必要時建立目錄
// O_APPEND 每次寫入時自動跳到文件末尾
func NewWAL(path string, opts ...Option) (*WAL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, DirModePrivate); err != nil {
			return nil, fmt.Errorf("create wal directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeReadOnly)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	w := &WAL{file: file, syncOnWrite: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write 寫入一筆資料
func (w *WAL) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := json.NewEncoder(w.file).Encode(v); err != nil {
		return err
	}
	if !w.syncOnWrite {
		return nil
	}
	return w.file.Sync()
}

// Sync 強制刷入硬碟
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Path 檔案路徑
func (w *WAL) Path() string {
	return w.file.Name()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}

// ReadAll 從頭讀取所有資料
// callback 每次收到一筆 JSON，避免一次將所有資料載入記憶體
// 每筆紀錄以換行結尾；檔尾沒有換行的是寫到一半就中斷的紀錄，會被截掉
// 中間的紀錄壞掉則回傳錯誤
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(w.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				return w.truncateTail(offset, len(line))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read wal: %w", err)
		}

		start := offset
		offset += int64(len(line))
		raw := bytes.TrimSpace(line)
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return fmt.Errorf("decode wal record at offset %d: invalid json", start)
		}
		if err := callback(raw); err != nil {
			return err
		}
	}
}

// truncateTail 截掉 offset 之後的殘缺紀錄，之後的 Write 接在最後一筆完整紀錄後面
func (w *WAL) truncateTail(offset int64, size int) error {
	w.logger.Warn("wal ends with a torn record, truncating",
		zap.String("path", w.file.Name()),
		zap.Int64("offset", offset),
		zap.Int("bytes", size),
	)
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate torn wal record: %w", err)
	}
	return w.file.Sync()
}
