package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/store"
)

// deliveryDoc is the "doc" field of a delivery hash. State and the claim
// live in sibling fields so the scripts never decode JSON.
type deliveryDoc struct {
	ID             string             `json:"id"`
	EventID        string             `json:"event_id"`
	EndpointID     string             `json:"endpoint_id"`
	Attempts       []delivery.Attempt `json:"attempts"`
	MaxAttempts    int                `json:"max_attempts"`
	NextAttemptAt  time.Time          `json:"next_attempt_at"`
	ReplayOf       string             `json:"replay_of,omitempty"`
	LastError      string             `json:"last_error,omitempty"`
	LastStatusCode int                `json:"last_status_code,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

func toDeliveryDoc(d *delivery.Delivery) *deliveryDoc {
	attempts := d.Attempts
	if attempts == nil {
		attempts = []delivery.Attempt{}
	}
	return &deliveryDoc{
		ID:             d.ID.String(),
		EventID:        d.EventID.String(),
		EndpointID:     d.EndpointID.String(),
		Attempts:       attempts,
		MaxAttempts:    d.MaxAttempts,
		NextAttemptAt:  d.NextAttemptAt,
		ReplayOf:       d.ReplayOf.String(),
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		CompletedAt:    d.CompletedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// fromDeliveryHash rebuilds a delivery from the fields of its hash.
func fromDeliveryHash(fields map[string]string) (*delivery.Delivery, error) {
	var m deliveryDoc
	if err := json.Unmarshal([]byte(fields[fieldDoc]), &m); err != nil {
		return nil, fmt.Errorf("decode delivery: %w", err)
	}
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	epID, err := id.ParseEndpointID(m.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.EndpointID, err)
	}
	var replayOf id.ID
	if m.ReplayOf != "" {
		if replayOf, err = id.ParseDeliveryID(m.ReplayOf); err != nil {
			return nil, fmt.Errorf("parse replay_of %q: %w", m.ReplayOf, err)
		}
	}
	var claimedAt *time.Time
	if raw := fields[fieldClaimedAt]; raw != "" {
		us, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse claimed_at %q: %w", raw, err)
		}
		t := time.UnixMicro(us).UTC()
		claimedAt = &t
	}
	if m.Attempts == nil {
		m.Attempts = []delivery.Attempt{}
	}
	return &delivery.Delivery{
		Entity:         entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             delID,
		EventID:        evtID,
		EndpointID:     epID,
		State:          delivery.State(fields[fieldState]),
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		NextAttemptAt:  m.NextAttemptAt,
		ClaimToken:     fields[fieldClaimToken],
		ClaimedAt:      claimedAt,
		ReplayOf:       replayOf,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// claimScript moves due deliveries to in_flight.
// KEYS: due zset, in-flight zset, counts hash.
// ARGV: now score, limit, claim token, claimed_at micros, delivery key prefix.
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
    local key = ARGV[5] .. id
    local state = redis.call('HGET', key, 'state')
    if state == 'pending' or state == 'retrying' then
        redis.call('HSET', key, 'state', 'in_flight', 'claim_token', ARGV[3], 'claimed_at', ARGV[4])
        redis.call('ZADD', KEYS[2], ARGV[4], id)
        redis.call('HINCRBY', KEYS[3], state, -1)
        redis.call('HINCRBY', KEYS[3], 'in_flight', 1)
        table.insert(out, id)
    end
end
return out
`)

// saveScript writes the outcome of an attempt if the claim still holds.
// Returns -1 for a missing delivery, 0 for a lost claim, 1 on success.
// KEYS: delivery hash, due zset, in-flight zset, counts hash.
// ARGV: claim token, doc, new state, due score, delivery ID.
var saveScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local state = redis.call('HGET', KEYS[1], 'state')
local token = redis.call('HGET', KEYS[1], 'claim_token')
if state ~= 'in_flight' or token ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'doc', ARGV[2], 'state', ARGV[3])
redis.call('ZREM', KEYS[3], ARGV[5])
if ARGV[3] == 'pending' or ARGV[3] == 'retrying' then
    redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
end
redis.call('HINCRBY', KEYS[4], 'in_flight', -1)
redis.call('HINCRBY', KEYS[4], ARGV[3], 1)
return 1
`)

// requeueScript returns stale in-flight deliveries to retrying, due now.
// KEYS: in-flight zset, due zset, counts hash.
// ARGV: cutoff score, now score, delivery key prefix.
var requeueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local n = 0
for _, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
    local key = ARGV[3] .. id
    if redis.call('HGET', key, 'state') == 'in_flight' then
        redis.call('HSET', key, 'state', 'retrying')
        redis.call('ZADD', KEYS[2], ARGV[2], id)
        redis.call('HINCRBY', KEYS[3], 'in_flight', -1)
        redis.call('HINCRBY', KEYS[3], 'retrying', 1)
        n = n + 1
    end
end
return n
`)

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	return s.EnqueueBatch(ctx, []*delivery.Delivery{d})
}

func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	for _, d := range ds {
		m := toDeliveryDoc(d)
		doc, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("herald/redis: marshal delivery: %w", err)
		}
		pipe.HSet(ctx, entityKey(prefixDelivery, m.ID),
			fieldDoc, doc,
			fieldState, string(d.State),
			fieldClaimToken, d.ClaimToken,
		)
		created := goredis.Z{Score: score(m.CreatedAt), Member: m.ID}
		pipe.ZAdd(ctx, zDeliveryAll, created)
		pipe.ZAdd(ctx, zDeliveryEP+m.EndpointID, created)
		pipe.ZAdd(ctx, zDeliveryEvt+m.EventID, created)
		if d.State.Claimable() {
			pipe.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: score(m.NextAttemptAt), Member: m.ID})
		}
		pipe.HIncrBy(ctx, hDeliveryCounts, string(d.State), 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: enqueue: %w", err)
	}
	return nil
}

func (s *Store) ClaimDue(ctx context.Context, at time.Time, limit int) ([]*delivery.Delivery, error) {
	ids, err := claimScript.Run(ctx, s.rdb,
		[]string{zDeliveryDue, zDeliveryClaimed, hDeliveryCounts},
		formatScore(score(at)), limit, uuid.NewString(), at.UnixMicro(), prefixDelivery,
	).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("herald/redis: claim due: %w", err)
	}

	out := make([]*delivery.Delivery, 0, len(ids))
	for _, raw := range ids {
		d, err := s.deliveryByString(ctx, raw)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b *delivery.Delivery) int { return a.NextAttemptAt.Compare(b.NextAttemptAt) })
	return out, nil
}

func (s *Store) SaveAttempt(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryDoc(d)
	m.UpdatedAt = now()
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("herald/redis: marshal delivery: %w", err)
	}

	res, err := saveScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixDelivery, m.ID), zDeliveryDue, zDeliveryClaimed, hDeliveryCounts},
		d.ClaimToken, doc, string(d.State), formatScore(score(d.NextAttemptAt)), m.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("herald/redis: save attempt: %w", err)
	}
	switch res {
	case -1:
		return delivery.ErrNotFound
	case 0:
		return delivery.ErrClaimLost
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	fields, err := s.rdb.HGetAll(ctx, entityKey(prefixDelivery, delID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: get delivery: %w", err)
	}
	if len(fields) == 0 {
		return nil, delivery.ErrNotFound
	}
	return fromDeliveryHash(fields)
}

func (s *Store) deliveryByString(ctx context.Context, raw string) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(raw)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: bad delivery index member %q: %w", raw, err)
	}
	d, err := s.GetDelivery(ctx, delID)
	if errors.Is(err, delivery.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

func (s *Store) ListDeliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	key := zDeliveryAll
	switch {
	case !opts.EventID.IsNil():
		key = zDeliveryEvt + opts.EventID.String()
	case !opts.EndpointID.IsNil():
		key = zDeliveryEP + opts.EndpointID.String()
	}
	ids, err := s.rdb.ZRevRangeByScore(ctx, key, scoreRange(opts.From, opts.To)).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list deliveries: %w", err)
	}

	out := make([]*delivery.Delivery, 0, len(ids))
	for _, raw := range ids {
		d, err := s.deliveryByString(ctx, raw)
		if err != nil {
			return nil, err
		}
		if d == nil {
			continue
		}
		if !opts.EndpointID.IsNil() && d.EndpointID.String() != opts.EndpointID.String() {
			continue
		}
		if opts.State != "" && d.State != opts.State {
			continue
		}
		out = append(out, d)
	}
	return store.Paginate(out, opts.Offset, opts.Limit), nil
}

func (s *Store) CountByState(ctx context.Context) (map[delivery.State]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, hDeliveryCounts).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: count by state: %w", err)
	}
	counts := make(map[delivery.State]int64, len(raw))
	for state, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("herald/redis: count of %s: %w", state, err)
		}
		if n > 0 {
			counts[delivery.State(state)] = n
		}
	}
	return counts, nil
}

func (s *Store) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	n, err := requeueScript.Run(ctx, s.rdb,
		[]string{zDeliveryClaimed, zDeliveryDue, hDeliveryCounts},
		formatScore(score(claimedBefore)), formatScore(score(now())), prefixDelivery,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: requeue stale: %w", err)
	}
	return n, nil
}
