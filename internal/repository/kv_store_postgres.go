package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"emojipapertrail/relay/internal/model"
	"emojipapertrail/relay/pkg/retry"
)

const liveEntry = "entry_key = ? AND (expires_at IS NULL OR expires_at > ?)"

// PostgresRetryPolicy is the default policy for the Postgres store: three
// attempts with exponential backoff on connection failures and on
// serialization conflicts.
func PostgresRetryPolicy() retry.Policy {
	return retry.Exponential(3, IsTransientPostgresError)
}

type pgKVStore struct {
	db    *gorm.DB
	retry retry.Policy
	now   func() time.Time
}

// NewPGKVStore stores strings and hashes in the kv_entries and kv_hash_fields
// tables. Expired rows are ignored on read and replaced on write.
func NewPGKVStore(db *gorm.DB, policy retry.Policy) KVStore {
	return &pgKVStore{db: db, retry: policy, now: time.Now}
}

func (s *pgKVStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.retry.Do(ctx, fn)
	if err == nil {
		return nil
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Errorf("%w: postgres %s: %w", ErrBackendUnavailable, op, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}

func (s *pgKVStore) expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.now().Add(ttl)
	return &t
}

func (s *pgKVStore) holdsString(tx *gorm.DB, key string) (bool, error) {
	var n int64
	err := tx.Model(&model.KVEntry{}).Where(liveEntry, key, s.now()).Count(&n).Error
	return n > 0, err
}

func holdsHash(tx *gorm.DB, key string) (bool, error) {
	var n int64
	err := tx.Model(&model.KVHashField{}).Where("hash_key = ?", key).Count(&n).Error
	return n > 0, err
}

// SetAndGetPrevious inserts the row if absent; otherwise it locks the existing
// row with SELECT ... FOR UPDATE before reading and overwriting it, so
// concurrent swaps on one key are serialized by Postgres.
func (s *pgKVStore) SetAndGetPrevious(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	var (
		prev  string
		found bool
	)
	expiresAt := s.expiry(ttl)

	err := s.do(ctx, "set-get", func(ctx context.Context) error {
		prev, found = "", false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if isHash, err := holdsHash(tx, key); err != nil {
				return err
			} else if isHash {
				return ErrWrongType
			}

			res := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&model.KVEntry{Key: key, Value: value, ExpiresAt: expiresAt})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				return nil
			}

			var current model.KVEntry
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("entry_key = ?", key).
				Take(&current).Error; err != nil {
				return err
			}
			if !current.IsExpired(s.now()) {
				prev, found = current.Value, true
			}

			return tx.Model(&model.KVEntry{}).
				Where("entry_key = ?", key).
				Updates(map[string]interface{}{"value": value, "expires_at": expiresAt}).Error
		})
	})
	if err != nil {
		return "", false, err
	}
	return prev, found, nil
}

func (s *pgKVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := model.KVEntry{Key: key, Value: value, ExpiresAt: s.expiry(ttl)}
	return s.do(ctx, "set", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("hash_key = ?", key).Delete(&model.KVHashField{}).Error; err != nil {
				return err
			}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "entry_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
			}).Create(&entry).Error
		})
	})
}

func (s *pgKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		val   string
		found bool
	)
	err := s.do(ctx, "get", func(ctx context.Context) error {
		var entry model.KVEntry
		err := s.db.WithContext(ctx).Where(liveEntry, key, s.now()).Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			val, found = "", false
			return nil
		}
		if err != nil {
			return err
		}
		val, found = entry.Value, true
		return nil
	})
	return val, found, err
}

func (s *pgKVStore) Delete(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.do(ctx, "del", func(ctx context.Context) error {
		n = 0
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Where(liveEntry, key, s.now()).Delete(&model.KVEntry{})
			if res.Error != nil {
				return res.Error
			}
			n = res.RowsAffected
			if n == 0 {
				// drop an expired leftover without counting it
				if err := tx.Where("entry_key = ?", key).Delete(&model.KVEntry{}).Error; err != nil {
					return err
				}
			}

			res = tx.Where("hash_key = ?", key).Delete(&model.KVHashField{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				n = 1
			}
			return nil
		})
	})
	return n, err
}

func (s *pgKVStore) HSet(ctx context.Context, key, field, value string) error {
	row := model.KVHashField{HashKey: key, Field: field, Value: value}
	return s.do(ctx, "hset", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if isString, err := s.holdsString(tx, key); err != nil {
				return err
			} else if isString {
				return ErrWrongType
			}
			// an expired string gives the key up
			if err := tx.Where("entry_key = ?", key).Delete(&model.KVEntry{}).Error; err != nil {
				return err
			}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "hash_key"}, {Name: "field_name"}},
				DoUpdates: clause.AssignmentColumns([]string{"value"}),
			}).Create(&row).Error
		})
	})
}

func (s *pgKVStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var (
		val   string
		found bool
	)
	err := s.do(ctx, "hget", func(ctx context.Context) error {
		db := s.db.WithContext(ctx)
		if isString, err := s.holdsString(db, key); err != nil {
			return err
		} else if isString {
			return ErrWrongType
		}

		var row model.KVHashField
		err := db.Where("hash_key = ? AND field_name = ?", key, field).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			val, found = "", false
			return nil
		}
		if err != nil {
			return err
		}
		val, found = row.Value, true
		return nil
	})
	return val, found, err
}

func (s *pgKVStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.do(ctx, "hgetall", func(ctx context.Context) error {
		db := s.db.WithContext(ctx)
		if isString, err := s.holdsString(db, key); err != nil {
			return err
		} else if isString {
			return ErrWrongType
		}

		var rows []model.KVHashField
		if err := db.Where("hash_key = ?", key).Find(&rows).Error; err != nil {
			return err
		}
		out = make(map[string]string, len(rows))
		for _, r := range rows {
			out[r.Field] = r.Value
		}
		return nil
	})
	return out, err
}

func (s *pgKVStore) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", func(ctx context.Context) error {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
}

func (s *pgKVStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLSTATEs that clear up on their own. Class 08 (connection exception) is
// matched by prefix.
var transientPGCodes = map[string]bool{
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

// IsTransientPostgresError reports whether err is worth retrying: failed or
// broken connections, timeouts, server restarts and serialization conflicts.
func IsTransientPostgresError(err error) bool {
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrWrongType) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || transientPGCodes[pgErr.Code]
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
