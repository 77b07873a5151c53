// Package message 定义了缓存事件对外转发时使用的标准消息格式。
// 每条消息带 SHA-256 校验和，消费方可以验证消息在传输中未被破坏。
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Version 当前消息格式版本
const Version = "1.0"

// 错误定义
var (
	ErrInvalidChecksum = errors.New("消息校验和不匹配")
	ErrInvalidFormat   = errors.New("消息格式无效")
)

// EventHeader 消息头部信息
type EventHeader struct {
	EventID     string `json:"eventId"`
	Timestamp   int64  `json:"timestamp"`
	Version     string `json:"version"`
	Source      string `json:"source"`
	ContentType string `json:"contentType"`
}

// EventMetadata 消息元数据，描述事件来自哪个缓存实例
type EventMetadata struct {
	Cache     string `json:"cache"`
	EventType string `json:"eventType"`
	Key       string `json:"key,omitempty"`
}

// EventMessage 标准缓存事件消息
type EventMessage struct {
	Header   EventHeader   `json:"header"`
	Metadata EventMetadata `json:"metadata"`
	Payload  interface{}   `json:"payload,omitempty"`
	Checksum string        `json:"checksum"`
}

// NewEventMessage 创建新的事件消息并计算校验和。
// Payload 会先经过一次 JSON 规范化，保证消费方解码后重算的校验和
// 与发布方写入的一致。
func NewEventMessage(source, cacheName, eventType, key string, payload interface{}) *EventMessage {
	msg := &EventMessage{
		Header: EventHeader{
			EventID:     uuid.New().String(),
			Timestamp:   time.Now().Unix(),
			Version:     Version,
			Source:      source,
			ContentType: "application/json",
		},
		Metadata: EventMetadata{
			Cache:     cacheName,
			EventType: eventType,
			Key:       key,
		},
		Payload: normalizePayload(payload),
	}
	msg.Checksum = msg.CalculateChecksum()
	return msg
}

// normalizePayload 把任意负载过一遍 JSON 编解码，
// 结构体字段顺序等编码差异由此抹平
func normalizePayload(payload interface{}) interface{} {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var normalized interface{}
	if err := json.Unmarshal(data, &normalized); err != nil {
		return payload
	}
	return normalized
}

// CalculateChecksum 计算消息校验和
func (m *EventMessage) CalculateChecksum() string {
	// 创建消息副本，排除 checksum 字段
	temp := EventMessage{
		Header:   m.Header,
		Metadata: m.Metadata,
		Payload:  m.Payload,
	}

	data, err := json.Marshal(temp)
	if err != nil {
		return ""
	}

	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// VerifyChecksum 判断校验和是否匹配
func (m *EventMessage) VerifyChecksum() bool {
	return m.Checksum == m.CalculateChecksum()
}

// Validate 验证消息格式和完整性
func (m *EventMessage) Validate() error {
	if m.Header.EventID == "" || m.Header.Version == "" || m.Metadata.Cache == "" || m.Metadata.EventType == "" {
		return ErrInvalidFormat
	}
	if !m.VerifyChecksum() {
		return ErrInvalidChecksum
	}
	return nil
}

// ToJSON 将消息转换为 JSON 字符串
func (m *EventMessage) ToJSON() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSON 从 JSON 字符串解析消息
func FromJSON(jsonStr string) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal([]byte(jsonStr), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SubjectFor 构造事件发布主题，形如 <prefix>.<cache>.<eventType>
func SubjectFor(prefix, cacheName, eventType string) string {
	return prefix + "." + cacheName + "." + eventType
}
