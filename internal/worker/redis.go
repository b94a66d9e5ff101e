package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"dynochat/internal/models"
	"dynochat/internal/redis"
)

const (
	redisInvalidateChannel = "dynochat:worker:invalidate"
	redisStateTTL          = 30 * time.Minute
)

type invalidateMessage struct {
	SessionID int64 `json:"session_id"`
}

// stateCache mirrors the session view into redis so another process (or
// a restarted one) can serve a session without hitting the database, and
// broadcasts invalidations when a session is deleted.
type stateCache struct {
	client *redis.Client
}

func newStateCache(client *redis.Client) *stateCache {
	return &stateCache{client: client}
}

// startListener subscribes to invalidation broadcasts.
func (r *stateCache) startListener(handler func(invalidateMessage)) {
	if r == nil || r.client == nil || handler == nil {
		return
	}
	raw := r.client.Raw()
	if raw == nil {
		return
	}
	go func() {
		ctx := context.Background()
		pubsub := raw.Subscribe(ctx, redisInvalidateChannel)
		ch := pubsub.Channel()
		for msg := range ch {
			var inv invalidateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				log.Printf("worker invalidation decode failed: %v", err)
				continue
			}
			handler(inv)
		}
	}()
}

// publishInvalidation broadcasts an invalidate message.
func (r *stateCache) publishInvalidation(msg invalidateMessage) {
	if r == nil || r.client == nil {
		return
	}
	raw := r.client.Raw()
	if raw == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("worker invalidation marshal failed: %v", err)
		return
	}
	if err := raw.Publish(context.Background(), redisInvalidateChannel, payload).Err(); err != nil {
		log.Printf("worker publish invalidation failed: %v", err)
	}
}

func (r *stateCache) cacheSession(session *models.Session, history []*models.Message) {
	if r == nil || r.client == nil || session == nil || session.ID <= 0 {
		return
	}
	ctx := context.Background()
	data, err := json.Marshal(session)
	if err == nil {
		key := fmt.Sprintf("worker:session:%d", session.ID)
		if err := r.client.Set(ctx, key, data, redisStateTTL); err != nil {
			log.Printf("worker cache session failed: %v", err)
		}
	}
	r.cacheHistory(session.ID, history)
}

func (r *stateCache) cacheHistory(sessionID int64, history []*models.Message) {
	if r == nil || r.client == nil || sessionID <= 0 {
		return
	}
	ctx := context.Background()
	data, err := json.Marshal(history)
	if err != nil {
		log.Printf("worker cache history marshal failed: %v", err)
		return
	}
	key := fmt.Sprintf("worker:history:%d", sessionID)
	if err := r.client.Set(ctx, key, data, redisStateTTL); err != nil {
		log.Printf("worker cache history failed: %v", err)
	}
}

func (r *stateCache) loadSession(sessionID int64) (*models.Session, []*models.Message, bool) {
	if r == nil || r.client == nil || sessionID <= 0 {
		return nil, nil, false
	}
	ctx := context.Background()
	key := fmt.Sprintf("worker:session:%d", sessionID)
	rawSession, err := r.client.Get(ctx, key)
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("worker load session cache failed: %v", err)
		}
		return nil, nil, false
	}
	var session models.Session
	if err := json.Unmarshal([]byte(rawSession), &session); err != nil {
		log.Printf("worker decode session cache failed: %v", err)
		return nil, nil, false
	}

	var history []*models.Message
	historyKey := fmt.Sprintf("worker:history:%d", sessionID)
	rawHistory, err := r.client.Get(ctx, historyKey)
	if err == nil {
		if err := json.Unmarshal([]byte(rawHistory), &history); err != nil {
			log.Printf("worker decode history cache failed: %v", err)
			history = nil
		}
	} else if err != redis.ErrCacheMiss {
		log.Printf("worker load history cache failed: %v", err)
	}
	return &session, history, true
}

func (r *stateCache) invalidateSession(sessionID int64) {
	if r == nil || r.client == nil || sessionID <= 0 {
		return
	}
	ctx := context.Background()
	sessionKey := fmt.Sprintf("worker:session:%d", sessionID)
	historyKey := fmt.Sprintf("worker:history:%d", sessionID)
	if err := r.client.Del(ctx, sessionKey, historyKey); err != nil && err != redis.ErrCacheMiss {
		log.Printf("worker invalidate session cache failed: %v", err)
	}
}
