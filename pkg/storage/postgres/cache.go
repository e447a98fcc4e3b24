package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mkrall/warden/pkg/observability"
	"github.com/mkrall/warden/pkg/rbac"
)

// NewRedisClient connects to Redis for the assignment read cache
func NewRedisClient(url, password string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db >= 0 {
		opts.DB = db
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// CachedAssignmentStore caches the per-user assignment list, the read on
// every permission resolution, in Redis. The cache is advisory: any Redis
// failure falls through to PostgreSQL, and writes invalidate rather than
// update so a stale entry never outlives the TTL plus one mutation.
type CachedAssignmentStore struct {
	store   *Store
	redis   *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewCachedAssignmentStore wraps the store's assignment reads with Redis
func NewCachedAssignmentStore(store *Store, client *redis.Client, ttl time.Duration,
	logger *observability.Logger, metrics *observability.Metrics) *CachedAssignmentStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedAssignmentStore{
		store:   store,
		redis:   client,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// cachedAssignment is the Redis form of an assignment; the condition interface
// is flattened through its storage envelope
type cachedAssignment struct {
	ID             string              `json:"id"`
	TenantID       string              `json:"tenant_id"`
	UserID         string              `json:"user_id"`
	RoleID         string              `json:"role_id"`
	AssignmentType rbac.AssignmentType `json:"assignment_type"`
	Condition      json.RawMessage     `json:"condition,omitempty"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty"`
	ActivatedAt    time.Time           `json:"activated_at"`
	AssignedBy     string              `json:"assigned_by"`
	Reason         string              `json:"reason,omitempty"`
}

func userKey(tenantID, userID string) string {
	return fmt.Sprintf("warden:assignments:%s:%s", tenantID, userID)
}

// GetActiveAssignment delegates to the store; the triple lookup only runs on
// mutations, which bypass the cache anyway
func (c *CachedAssignmentStore) GetActiveAssignment(ctx context.Context, tenantID, userID, roleID string) (*rbac.RoleAssignment, error) {
	return c.store.GetActiveAssignment(ctx, tenantID, userID, roleID)
}

// ListActiveAssignmentsForUser implements rbac.AssignmentStore with a
// read-through cache
func (c *CachedAssignmentStore) ListActiveAssignmentsForUser(ctx context.Context, tenantID, userID string) ([]rbac.RoleAssignment, error) {
	key := userKey(tenantID, userID)

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		if assignments, derr := decodeAssignments(data); derr == nil {
			if c.metrics != nil {
				c.metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
			}
			return assignments, nil
		}
		// Undecodable entry: drop it and fall through
		c.redis.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WithError(err).Warn("assignment cache read failed")
	}
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
	}

	assignments, err := c.store.ListActiveAssignmentsForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	if encoded, eerr := encodeAssignments(assignments); eerr == nil {
		if serr := c.redis.Set(ctx, key, encoded, c.ttl).Err(); serr != nil {
			c.logger.WithError(serr).Warn("assignment cache write failed")
		}
	}
	return assignments, nil
}

// InsertAssignment implements rbac.AssignmentStore, invalidating the user's
// cached list
func (c *CachedAssignmentStore) InsertAssignment(ctx context.Context, assignment *rbac.RoleAssignment) error {
	if err := c.store.InsertAssignment(ctx, assignment); err != nil {
		return err
	}
	c.invalidate(ctx, assignment.TenantID, assignment.UserID)
	return nil
}

// DeactivateAssignment implements rbac.AssignmentStore
func (c *CachedAssignmentStore) DeactivateAssignment(ctx context.Context, assignmentID string, at time.Time, by *string) (bool, error) {
	// Resolve the owner before the flip so the invalidation key is known even
	// though the interface only carries the assignment ID
	tenantID, userID, err := c.store.assignmentOwner(ctx, assignmentID)
	flipped, derr := c.store.DeactivateAssignment(ctx, assignmentID, at, by)
	if derr != nil {
		return false, derr
	}
	if err == nil {
		c.invalidate(ctx, tenantID, userID)
	}
	return flipped, nil
}

// ListExpiredActiveAssignments delegates to the store; sweep results flow back
// through DeactivateAssignment's invalidation
func (c *CachedAssignmentStore) ListExpiredActiveAssignments(ctx context.Context, now time.Time) ([]rbac.RoleAssignment, error) {
	return c.store.ListExpiredActiveAssignments(ctx, now)
}

func (c *CachedAssignmentStore) invalidate(ctx context.Context, tenantID, userID string) {
	if err := c.redis.Del(ctx, userKey(tenantID, userID)).Err(); err != nil {
		c.logger.WithError(err).Warn("assignment cache invalidation failed")
	}
}

func encodeAssignments(assignments []rbac.RoleAssignment) ([]byte, error) {
	cached := make([]cachedAssignment, 0, len(assignments))
	for _, a := range assignments {
		cond, err := rbac.MarshalCondition(a.Condition)
		if err != nil {
			return nil, err
		}
		cached = append(cached, cachedAssignment{
			ID:             a.ID,
			TenantID:       a.TenantID,
			UserID:         a.UserID,
			RoleID:         a.RoleID,
			AssignmentType: a.AssignmentType,
			Condition:      cond,
			ExpiresAt:      a.ExpiresAt,
			ActivatedAt:    a.ActivatedAt,
			AssignedBy:     a.AssignedBy,
			Reason:         a.Reason,
		})
	}
	return json.Marshal(cached)
}

func decodeAssignments(data []byte) ([]rbac.RoleAssignment, error) {
	var cached []cachedAssignment
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	var assignments []rbac.RoleAssignment
	for _, c := range cached {
		cond, err := rbac.UnmarshalCondition(c.Condition)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, rbac.RoleAssignment{
			ID:             c.ID,
			TenantID:       c.TenantID,
			UserID:         c.UserID,
			RoleID:         c.RoleID,
			AssignmentType: c.AssignmentType,
			Condition:      cond,
			ExpiresAt:      c.ExpiresAt,
			IsActive:       true,
			ActivatedAt:    c.ActivatedAt,
			AssignedBy:     c.AssignedBy,
			Reason:         c.Reason,
		})
	}
	return assignments, nil
}

// assignmentOwner looks up the tenant and user of an assignment row
func (s *Store) assignmentOwner(ctx context.Context, assignmentID string) (string, string, error) {
	var tenantID, userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, user_id FROM role_assignments WHERE id = $1`,
		assignmentID).Scan(&tenantID, &userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: %s", rbac.ErrAssignmentNotFound, assignmentID)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to look up assignment owner: %w", err)
	}
	return tenantID, userID, nil
}
