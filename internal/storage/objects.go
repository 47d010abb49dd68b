package storage

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ErrGrantUsed 表示签名 token 已被使用过
var ErrGrantUsed = errors.New("grant already used")

// Object 是一个存储对象
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Size        int64
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// ObjectInfo 是不含内容的对象元数据
type ObjectInfo struct {
	Key         string     `json:"key"`
	ContentType string     `json:"content_type"`
	Size        int64      `json:"size"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ObjectPut 写入对象, 已存在时覆盖; ttl 为 0 表示永不过期
func (db *DB) ObjectPut(key string, data []byte, contentType string, ttl time.Duration) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	if data == nil {
		data = []byte{}
	}

	_, err := db.Exec(
		`INSERT OR REPLACE INTO objects (key, data, content_type, size, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, data, contentType, len(data), time.Now(), expiresAt,
	)
	return err
}

// ObjectGet 读取对象
func (db *DB) ObjectGet(key string) (*Object, error) {
	obj := &Object{Key: key}
	var expiresAt sql.NullTime

	err := db.QueryRow(
		"SELECT data, content_type, size, created_at, expires_at FROM objects WHERE key = ?",
		key,
	).Scan(&obj.Data, &obj.ContentType, &obj.Size, &obj.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		if expiresAt.Time.Before(time.Now()) {
			// 过期了，删除并返回 not found
			_, _ = db.Exec("DELETE FROM objects WHERE key = ?", key)
			return nil, ErrNotFound
		}
		t := expiresAt.Time
		obj.ExpiresAt = &t
	}
	return obj, nil
}

// ObjectDelete 删除对象
func (db *DB) ObjectDelete(key string) error {
	result, err := db.Exec("DELETE FROM objects WHERE key = ?", key)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ObjectList 按前缀列出未过期的对象, 按 key 排序
func (db *DB) ObjectList(prefix string) ([]ObjectInfo, error) {
	rows, err := db.Query(
		`SELECT key, content_type, size, created_at, expires_at FROM objects
		 WHERE key LIKE ? ESCAPE '\' ORDER BY key`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now()
	var infos []ObjectInfo
	for rows.Next() {
		var info ObjectInfo
		var expiresAt sql.NullTime
		if err := rows.Scan(&info.Key, &info.ContentType, &info.Size, &info.CreatedAt, &expiresAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			if expiresAt.Time.Before(now) {
				continue
			}
			t := expiresAt.Time
			info.ExpiresAt = &t
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// ObjectCleanExpired 清理过期对象
func (db *DB) ObjectCleanExpired() (int64, error) {
	result, err := db.Exec(
		"DELETE FROM objects WHERE expires_at IS NOT NULL AND expires_at < ?",
		time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GrantUse 记录一次 token 使用; 同一 token 第二次使用返回 ErrGrantUsed.
// expiresAt 之后记录可被清理.
func (db *DB) GrantUse(tokenID, objectKey, method string, expiresAt time.Time) error {
	result, err := db.Exec(
		`INSERT OR IGNORE INTO grants (token_id, object_key, method, used_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		tokenID, objectKey, method, time.Now(), expiresAt,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrGrantUsed
	}
	return nil
}

// GrantCleanExpired 清理已过期 token 的使用记录
func (db *DB) GrantCleanExpired() (int64, error) {
	result, err := db.Exec("DELETE FROM grants WHERE expires_at < ?", time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
