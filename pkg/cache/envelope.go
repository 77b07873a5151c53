package cache

import (
	"encoding/json"
	"time"

	"veloxcache/pkg/core"
)

// envelope 持久层中一条缓存记录的信封格式。
// 过期语义由信封承载而不是交给存储介质，三种存储实现因此行为一致。
// expiresAt 为自 epoch 起的毫秒数，null 表示永不过期。
type envelope struct {
	Value     string `json:"value"`
	ExpiresAt *int64 `json:"expiresAt"`
}

func encodeEnvelope(value string, expiresAt time.Time) (string, error) {
	env := envelope{Value: value}
	if !expiresAt.IsZero() {
		millis := expiresAt.UnixMilli()
		env.ExpiresAt = &millis
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", core.WrapError(core.ErrSerializeFailed, "failed to encode storage envelope", err)
	}
	return string(data), nil
}

func decodeEnvelope(raw string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return envelope{}, core.WrapError(core.ErrDeserializeFailed, "failed to decode storage envelope", err)
	}
	return env, nil
}

// isExpired 判断信封是否已过期，恰好处于过期时刻视为已过期
func (e envelope) isExpired(now time.Time) bool {
	if e.ExpiresAt == nil {
		return false
	}
	return now.UnixMilli() >= *e.ExpiresAt
}

// expiresAtTime 返回信封的过期时间，永不过期时返回零值
func (e envelope) expiresAtTime() time.Time {
	if e.ExpiresAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*e.ExpiresAt)
}
