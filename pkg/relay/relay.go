// Package relay 把缓存事件流转发到 NATS，供外部系统旁路消费。
// 转发是尽力而为的遥测通道：缓存侧的非阻塞广播已经对慢消费者做了丢弃，
// 这里发布失败只记日志，绝不影响缓存路径。
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"veloxcache/pkg/cache"
	"veloxcache/pkg/logger"
	"veloxcache/pkg/message"
)

// Config 事件转发配置
type Config struct {
	// URL NATS 服务器地址
	URL string `yaml:"url" mapstructure:"url" json:"url"`
	// SubjectPrefix 发布主题前缀，完整主题为 <prefix>.<cache>.<eventType>
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix" json:"subject_prefix"`
	// Source 消息头中的来源标识
	Source string `yaml:"source" mapstructure:"source" json:"source"`
}

// DefaultConfig 返回默认转发配置
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "velox.events",
		Source:        "veloxcache",
	}
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "velox.events"
	}
	if c.Source == "" {
		c.Source = "veloxcache"
	}
	return c
}

// EventSource 可被转发的缓存：提供名称与事件流订阅
type EventSource[V any] interface {
	Name() string
	Subscribe() (<-chan cache.Event[V], func())
}

// Relay 订阅一个缓存的事件流，把每个事件包装成带校验和的
// EventMessage 发布到 NATS
type Relay[V any] struct {
	conn      *nats.Conn
	config    Config
	cacheName string
	cancel    func()
	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

// NewRelay 连接 NATS 并开始转发指定缓存的事件
func NewRelay[V any](config Config, c EventSource[V]) (*Relay[V], error) {
	config = config.withDefaults()

	conn, err := nats.Connect(config.URL,
		nats.Name("veloxcache-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", config.URL, err)
	}

	events, cancel := c.Subscribe()
	r := &Relay[V]{
		conn:      conn,
		config:    config,
		cacheName: c.Name(),
		cancel:    cancel,
		done:      make(chan struct{}),
		log:       logger.WithComponent("relay").WithField("cache", c.Name()),
	}
	go r.pump(events)

	r.log.Infof("relaying cache events to %s under subject %s.%s.*", config.URL, config.SubjectPrefix, r.cacheName)
	return r, nil
}

func (r *Relay[V]) pump(events <-chan cache.Event[V]) {
	defer close(r.done)
	for ev := range events {
		r.publish(ev)
	}
}

func (r *Relay[V]) publish(ev cache.Event[V]) {
	var payload interface{}
	if ev.HasValue {
		payload = ev.Value
	}
	msg := message.NewEventMessage(r.config.Source, r.cacheName, string(ev.Type), ev.Key, payload)
	data, err := msg.ToJSON()
	if err != nil {
		r.log.WithError(err).Warn("failed to encode event message")
		return
	}

	subject := message.SubjectFor(r.config.SubjectPrefix, r.cacheName, string(ev.Type))
	if err := r.conn.Publish(subject, []byte(data)); err != nil {
		r.log.WithError(err).Warnf("failed to publish event to %s", subject)
	}
}

// Close 停止转发：取消缓存订阅、等待转发协程退出，
// 再通过 Drain 把已缓冲的消息冲刷给服务器。幂等。
func (r *Relay[V]) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
		if err := r.conn.Drain(); err != nil {
			r.log.WithError(err).Warn("nats drain failed, closing connection directly")
			r.conn.Close()
		}
		r.log.Info("relay stopped")
	})
}
