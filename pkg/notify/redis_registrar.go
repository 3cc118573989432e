package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	authGranted = "granted"
	authDenied  = "denied"
)

// claimScript pops due members so that concurrent dispatchers never deliver twice.
var claimScript = redis.NewScript(`
local members = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
if #members > 0 then
  redis.call("ZREM", KEYS[1], unpack(members))
end
return members
`)

// RedisRegistrar keeps pending requests in Redis. Each scope owns a hash of
// request JSON; a shared sorted set orders all requests by fire time.
type RedisRegistrar struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistrar builds a registrar on client.
func NewRedisRegistrar(client *redis.Client, prefix string) *RedisRegistrar {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "examtrack:notify"
	}
	return &RedisRegistrar{client: client, prefix: prefix}
}

// AuthorizationStatus implements Registrar.
func (r *RedisRegistrar) AuthorizationStatus(ctx context.Context) (AuthorizationStatus, error) {
	v, err := r.client.HGet(ctx, r.authKey(), scopeFromContext(ctx)).Result()
	if err == redis.Nil {
		return AuthNotDetermined, nil
	}
	if err != nil {
		return AuthNotDetermined, err
	}
	switch v {
	case authGranted:
		return AuthAuthorized, nil
	case authDenied:
		return AuthDenied, nil
	default:
		return AuthNotDetermined, nil
	}
}

// RequestAuthorization grants permission on first request and reports the
// standing decision afterwards.
func (r *RedisRegistrar) RequestAuthorization(ctx context.Context) (bool, error) {
	scope := scopeFromContext(ctx)
	if _, err := r.client.HSetNX(ctx, r.authKey(), scope, authGranted).Result(); err != nil {
		return false, err
	}
	v, err := r.client.HGet(ctx, r.authKey(), scope).Result()
	if err != nil {
		return false, err
	}
	return v == authGranted, nil
}

// SetAuthorization records an explicit decision for the current scope.
func (r *RedisRegistrar) SetAuthorization(ctx context.Context, granted bool) error {
	v := authDenied
	if granted {
		v = authGranted
	}
	return r.client.HSet(ctx, r.authKey(), scopeFromContext(ctx), v).Err()
}

// Add registers or replaces a request.
func (r *RedisRegistrar) Add(ctx context.Context, req Request) error {
	scope := scopeFromContext(ctx)
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.pendingKey(scope), req.ID, payload)
	pipe.ZAdd(ctx, r.dueKey(), redis.Z{Score: float64(req.FireAt.UnixMilli()), Member: dueMember(scope, req.ID)})
	_, err = pipe.Exec(ctx)
	return err
}

// Remove deletes requests by id.
func (r *RedisRegistrar) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	scope := scopeFromContext(ctx)
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		members = append(members, dueMember(scope, id))
	}
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, r.pendingKey(scope), ids...)
	pipe.ZRem(ctx, r.dueKey(), members...)
	_, err := pipe.Exec(ctx)
	return err
}

// Pending lists the scope's requests ordered by fire time.
func (r *RedisRegistrar) Pending(ctx context.Context) ([]Request, error) {
	raw, err := r.client.HGetAll(ctx, r.pendingKey(scopeFromContext(ctx))).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(raw))
	for id, payload := range raw {
		var req Request
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			slog.WarnContext(ctx, "skipping undecodable notification", "id", id, "err", err)
			continue
		}
		out = append(out, req)
	}
	sortRequests(out)
	return out, nil
}

// ClaimDue implements Source.
func (r *RedisRegistrar) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Due, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := claimScript.Run(ctx, r.client, []string{r.dueKey()},
		strconv.FormatInt(now.UnixMilli(), 10), strconv.Itoa(limit)).StringSlice()
	if err != nil {
		return nil, err
	}
	out := make([]Due, 0, len(res))
	for _, member := range res {
		scope, id, ok := strings.Cut(member, "|")
		if !ok {
			continue
		}
		key := r.pendingKey(scope)
		payload, err := r.client.HGet(ctx, key, id).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return out, err
		}
		if err := r.client.HDel(ctx, key, id).Err(); err != nil {
			return out, err
		}
		var req Request
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			slog.WarnContext(ctx, "dropping undecodable notification", "scope", scope, "id", id, "err", err)
			continue
		}
		out = append(out, Due{Scope: scope, Request: req})
	}
	return out, nil
}

func (r *RedisRegistrar) authKey() string { return r.prefix + ":auth" }

func (r *RedisRegistrar) dueKey() string { return r.prefix + ":due" }

func (r *RedisRegistrar) pendingKey(scope string) string {
	return fmt.Sprintf("%s:pending:%s", r.prefix, scope)
}

func dueMember(scope, id string) string { return scope + "|" + id }

func sortRequests(reqs []Request) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].FireAt.Equal(reqs[j].FireAt) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].FireAt.Before(reqs[j].FireAt)
	})
}
