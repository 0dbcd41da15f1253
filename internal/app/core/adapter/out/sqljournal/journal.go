// Package sqljournal 把帳本日誌存在 SQL 資料庫 (SQLite 或 PostgreSQL)，取代 WAL 檔案
package sqljournal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
)

// 兩種資料庫都接受 $1 形式的參數
const (
	insertRecord = `INSERT INTO journal (payload, created_at) VALUES ($1, $2)`
	selectAll    = `SELECT payload FROM journal ORDER BY id`
)

// Journal 以資料表保存日誌，每筆紀錄是一列 JSON
type Journal struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
}

func newJournal(db *sql.DB, driver, schema string) (*Journal, error) {
	j := &Journal{db: db, driver: driver, timeout: 5 * time.Second}
	ctx, cancel := j.context()
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}
	return j, nil
}

func (j *Journal) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), j.timeout)
}

// Driver 資料庫驅動名稱
func (j *Journal) Driver() string {
	return j.driver
}

// Write 寫入一筆紀錄
func (j *Journal) Write(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := j.context()
	defer cancel()
	_, err = j.db.ExecContext(ctx, insertRecord, string(payload), time.Now().UTC())
	return err
}

// ReadAll 依寫入順序讀取全部紀錄
func (j *Journal) ReadAll(callback func(jsonRaw []byte) error) error {
	rows, err := j.db.Query(selectAll)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		if err := callback([]byte(payload)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close 關閉資料庫連線
func (j *Journal) Close() error {
	return j.db.Close()
}

var _ usecase.Journal = (*Journal)(nil)
