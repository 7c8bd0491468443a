package repo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-pg/pg/v10"
	"github.com/redis/go-redis/v9"

	"github.com/kicet3/AIMEX-back-sub002/internal/session"
)

var _ session.SessionStore = (*Repository)(nil)

// Repository is the durable session store: postgres rows with a redis
// read-through cache on point lookups. List queries always hit postgres
// so the reconciler sees committed state.
type Repository struct {
	db    *pg.DB
	redis redis.Cmdable
}

func NewRepository(db *pg.DB, redis redis.Cmdable) *Repository {
	return &Repository{
		db:    db,
		redis: redis,
	}
}

func (r *Repository) Create(ctx context.Context, sess *session.Session) error {
	_, err := r.db.ModelContext(ctx, toModel(sess)).Insert()
	return err
}

func (r *Repository) GetByID(ctx context.Context, id string) (*session.Session, error) {
	if r.redis != nil {
		if val, err := r.redis.Get(ctx, sessionCacheKey(id)).Result(); err == nil {
			var cached session.Session
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return &cached, nil
			}
		}
	}

	model := &SessionModel{ID: id}
	if err := r.db.ModelContext(ctx, model).WherePK().Select(); err != nil {
		if errors.Is(err, pg.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}

	sess := fromModel(model)
	r.cache(ctx, sess)
	return sess, nil
}

func (r *Repository) GetActiveByUser(ctx context.Context, userID string) (*session.Session, error) {
	model := &SessionModel{}
	err := r.db.ModelContext(ctx, model).
		Where("user_id = ?", userID).
		Where("session_status IN (?)", pg.In(session.ActiveStatuses())).
		Where("terminated_at IS NULL").
		Order("created_at DESC").
		Limit(1).
		Select()
	if err != nil {
		if errors.Is(err, pg.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	return fromModel(model), nil
}

func (r *Repository) Update(ctx context.Context, sess *session.Session) error {
	res, err := r.db.ModelContext(ctx, toModel(sess)).WherePK().Update()
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}

	r.invalidate(ctx, sess.ID)
	return nil
}

func (r *Repository) ListActive(ctx context.Context) ([]*session.Session, error) {
	var models []SessionModel
	err := r.db.ModelContext(ctx, &models).
		Where("session_status IN (?)", pg.In(session.ActiveStatuses())).
		Order("created_at ASC").
		Select()
	if err != nil {
		return nil, err
	}

	sessions := make([]*session.Session, 0, len(models))
	for i := range models {
		sessions = append(sessions, fromModel(&models[i]))
	}
	return sessions, nil
}

func (r *Repository) cache(ctx context.Context, sess *session.Session) {
	if r.redis == nil {
		return
	}
	if b, err := json.Marshal(sess); err == nil {
		_ = r.redis.Set(ctx, sessionCacheKey(sess.ID), b, sessionCacheTTL).Err()
	}
}

func (r *Repository) invalidate(ctx context.Context, id string) {
	if r.redis == nil {
		return
	}
	_ = r.redis.Del(ctx, sessionCacheKey(id)).Err()
}
