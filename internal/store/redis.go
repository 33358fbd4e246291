// Package store persists job summary rows in Redis.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"rooflytics/internal/report"

	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Get for an unknown job.
var ErrNotFound = errors.New("summary not found")

// ErrDuplicate is returned by Insert when a job already has a summary.
var ErrDuplicate = errors.New("summary already exists")

// Redis stores one JSON summary per job under <prefix>:summary:<job> and
// keeps job ids, newest first, in the list <prefix>:summaries.
type Redis struct {
	pool   *redis.Pool
	prefix string
}

// NewRedis dials address lazily through a connection pool.
func NewRedis(address string, maxIdle int, prefix string) *Redis {
	pool := redis.NewPool(func() (redis.Conn, error) {
		c, err := redis.Dial("tcp", address)

		if err != nil {
			return nil, err
		}

		return c, err
	}, maxIdle)
	pool.IdleTimeout = 240 * time.Second

	return NewRedisWithPool(pool, prefix)
}

// NewRedisWithPool wraps an existing pool.
func NewRedisWithPool(pool *redis.Pool, prefix string) *Redis {
	if prefix == "" {
		prefix = "rooflytics"
	}
	return &Redis{pool: pool, prefix: prefix}
}

// Close closes the pool.
func (s *Redis) Close() error {
	return s.pool.Close()
}

func (s *Redis) summaryKey(jobID string) string {
	return fmt.Sprintf("%s:summary:%s", s.prefix, jobID)
}

func (s *Redis) listKey() string {
	return s.prefix + ":summaries"
}

// Ping checks connectivity.
func (s *Redis) Ping() error {
	conn := s.pool.Get()
	defer conn.Close()

	_, err := conn.Do("PING")
	return errors.Wrap(err, "redis ping failed")
}

// Insert stores row and records its job id. A second insert for the same job
// fails with ErrDuplicate.
func (s *Redis) Insert(row report.SummaryRow) error {
	if row.JobID == "" {
		return errors.New("summary row has no job id")
	}
	data, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "unable to marshal summary")
	}

	conn := s.pool.Get()
	defer conn.Close()

	ok, err := redis.String(conn.Do("SET", s.summaryKey(row.JobID), data, "NX"))
	if err == redis.ErrNil {
		return errors.Wrapf(ErrDuplicate, "job %s", row.JobID)
	}
	if err != nil {
		return errors.Wrapf(err, "unable to store summary for job %s", row.JobID)
	}
	if ok != "OK" {
		return errors.Errorf("unexpected reply %q storing job %s", ok, row.JobID)
	}

	if _, err := conn.Do("LPUSH", s.listKey(), row.JobID); err != nil {
		return errors.Wrapf(err, "unable to index summary for job %s", row.JobID)
	}

	log.WithFields(log.Fields{
		"job":   row.JobID,
		"roofs": row.NumRoofs,
	}).Debug("Stored job summary")
	return nil
}

// Get returns the summary of one job.
func (s *Redis) Get(jobID string) (*report.SummaryRow, error) {
	conn := s.pool.Get()
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", s.summaryKey(jobID)))
	if err == redis.ErrNil {
		return nil, errors.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read summary for job %s", jobID)
	}

	var row report.SummaryRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, errors.Wrapf(err, "corrupt summary for job %s", jobID)
	}
	return &row, nil
}

// List returns up to limit summaries, newest first. limit <= 0 returns all.
func (s *Redis) List(limit int) ([]report.SummaryRow, error) {
	conn := s.pool.Get()
	defer conn.Close()

	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	ids, err := redis.Strings(conn.Do("LRANGE", s.listKey(), 0, stop))
	if err != nil {
		return nil, errors.Wrap(err, "unable to list summaries")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = s.summaryKey(id)
	}
	values, err := redis.Values(conn.Do("MGET", args...))
	if err != nil {
		return nil, errors.Wrap(err, "unable to read summaries")
	}

	rows := make([]report.SummaryRow, 0, len(values))
	for i, v := range values {
		data, ok := v.([]byte)
		if !ok {
			log.Warnf("Summary list references missing job %s", ids[i])
			continue
		}
		var row report.SummaryRow
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, errors.Wrapf(err, "corrupt summary for job %s", ids[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}
