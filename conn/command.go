package conn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Op identifies a wire command supported by [Manager.Execute].
type Op uint8

const (
	OpGet Op = iota + 1
	OpSet
	OpDel
	OpPTTL
	OpExpire
	OpExists
	OpHSet
	OpHDel
	OpHGetAll
	OpHLen
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "GET"
	case OpSet:
		return "SET"
	case OpDel:
		return "DEL"
	case OpPTTL:
		return "PTTL"
	case OpExpire:
		return "EXPIRE"
	case OpExists:
		return "EXISTS"
	case OpHSet:
		return "HSET"
	case OpHDel:
		return "HDEL"
	case OpHGetAll:
		return "HGETALL"
	case OpHLen:
		return "HLEN"
	default:
		return "UNKNOWN"
	}
}

// PTTL sentinels as reported by the server.
const (
	NoExpiry   time.Duration = -1
	KeyMissing time.Duration = -2
)

// Command is one entry of a pipelined batch.
type Command struct {
	Op     Op
	Key    string
	Field  string
	Value  []byte
	TTL    time.Duration
	Fields []string
}

// Get reads a string value.
func Get(key string) Command { return Command{Op: OpGet, Key: key} }

// Set writes value with a mandatory positive TTL.
func Set(key string, value []byte, ttl time.Duration) Command {
	return Command{Op: OpSet, Key: key, Value: value, TTL: ttl}
}

// Del deletes key. Deleting an absent key is not an error.
func Del(key string) Command { return Command{Op: OpDel, Key: key} }

// PTTL queries the remaining time to live.
func PTTL(key string) Command { return Command{Op: OpPTTL, Key: key} }

// Expire (re)applies a TTL.
func Expire(key string, ttl time.Duration) Command {
	return Command{Op: OpExpire, Key: key, TTL: ttl}
}

// Exists reports whether key is present.
func Exists(key string) Command { return Command{Op: OpExists, Key: key} }

// HSet sets one hash field.
func HSet(key, field string, value []byte) Command {
	return Command{Op: OpHSet, Key: key, Field: field, Value: value}
}

// HDel removes hash fields.
func HDel(key string, fields ...string) Command {
	return Command{Op: OpHDel, Key: key, Fields: fields}
}

// HGetAll reads a whole hash.
func HGetAll(key string) Command { return Command{Op: OpHGetAll, Key: key} }

// HLen counts hash fields.
func HLen(key string) Command { return Command{Op: OpHLen, Key: key} }

// Result is the outcome of one [Command]. Exactly one of the value fields is
// meaningful, depending on Op. Nil is set when the key (or field) is absent.
type Result struct {
	Op    Op
	Key   string
	Bytes []byte
	Int   int64
	TTL   time.Duration
	Map   map[string]string
	Nil   bool
	Err   error
}

func (c Command) validate() error {
	if c.Key == "" {
		return fmt.Errorf("%w: %s with empty key", ErrCommand, c.Op)
	}
	switch c.Op {
	case OpSet:
		if c.TTL <= 0 {
			return fmt.Errorf("%w: SET %s requires a positive TTL", ErrCommand, c.Key)
		}
	case OpExpire:
		if c.TTL <= 0 {
			return fmt.Errorf("%w: EXPIRE %s requires a positive TTL", ErrCommand, c.Key)
		}
	case OpHSet:
		if c.Field == "" {
			return fmt.Errorf("%w: HSET %s with empty field", ErrCommand, c.Key)
		}
	case OpHDel:
		if len(c.Fields) == 0 {
			return fmt.Errorf("%w: HDEL %s without fields", ErrCommand, c.Key)
		}
	case OpGet, OpDel, OpPTTL, OpExists, OpHGetAll, OpHLen:
	default:
		return fmt.Errorf("%w: unsupported op %d", ErrCommand, c.Op)
	}
	return nil
}

func (c Command) queue(ctx context.Context, pipe redis.Pipeliner) redis.Cmder {
	switch c.Op {
	case OpGet:
		return pipe.Get(ctx, c.Key)
	case OpSet:
		return pipe.Set(ctx, c.Key, c.Value, c.TTL)
	case OpDel:
		return pipe.Del(ctx, c.Key)
	case OpPTTL:
		return pipe.PTTL(ctx, c.Key)
	case OpExpire:
		return pipe.Expire(ctx, c.Key, c.TTL)
	case OpExists:
		return pipe.Exists(ctx, c.Key)
	case OpHSet:
		return pipe.HSet(ctx, c.Key, c.Field, c.Value)
	case OpHDel:
		return pipe.HDel(ctx, c.Key, c.Fields...)
	case OpHGetAll:
		return pipe.HGetAll(ctx, c.Key)
	default:
		return pipe.HLen(ctx, c.Key)
	}
}

// decode converts a finished go-redis command into a Result. Only reply
// errors end up in Result.Err; connectivity errors are handled by the caller.
func decode(c Command, cmd redis.Cmder) Result {
	res := Result{Op: c.Op, Key: c.Key}
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			res.Nil = true
			return res
		}
		res.Err = fmt.Errorf("%w: %s %s: %v", ErrCommand, c.Op, c.Key, err)
		return res
	}

	switch v := cmd.(type) {
	case *redis.StringCmd:
		b, err := v.Bytes()
		if err != nil {
			res.Err = fmt.Errorf("%w: %s %s: %v", ErrCommand, c.Op, c.Key, err)
			return res
		}
		res.Bytes = b
	case *redis.StatusCmd:
		if v.Val() != "OK" {
			res.Err = fmt.Errorf("%w: %s %s: unexpected status %q", ErrCommand, c.Op, c.Key, v.Val())
		}
	case *redis.IntCmd:
		res.Int = v.Val()
	case *redis.BoolCmd:
		if v.Val() {
			res.Int = 1
		}
	case *redis.DurationCmd:
		res.TTL = v.Val()
		if res.TTL == KeyMissing {
			res.Nil = true
		}
	case *redis.MapStringStringCmd:
		res.Map = v.Val()
		if len(res.Map) == 0 {
			res.Nil = true
		}
	default:
		res.Err = fmt.Errorf("%w: %s %s: unexpected reply type %T", ErrCommand, c.Op, c.Key, cmd)
	}
	return res
}
