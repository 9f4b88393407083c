package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// Publisher 发布设备结果事件
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close()
}

// DeviceEvent 单台设备处理完成后发布的事件
type DeviceEvent struct {
	RunID     string    `json:"run_id"`
	Host      string    `json:"host"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Artifacts []string  `json:"artifacts,omitempty"`
	Time      time.Time `json:"time"`
}

// Subject 事件主题：<base>.<status>
func Subject(base, status string) string {
	if base == "" {
		base = "ciscofetch.device"
	}
	return base + "." + status
}

// Emit 编码并发布事件；发布失败只记日志
func Emit(ctx context.Context, p Publisher, base string, ev DeviceEvent) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Warnf("event encode failed: %v", err)
		return
	}
	if err := p.Publish(ctx, Subject(base, ev.Status), payload); err != nil {
		logger.WithField("host", ev.Host).Warnf("event publish failed: %v", err)
	}
}

// NatsPublisher 基于 NATS 的发布者
type NatsPublisher struct {
	nc  *nats.Conn
	url string
}

// NewNatsPublisher 连接 NATS
func NewNatsPublisher(url string) (*NatsPublisher, error) {
	opts := []nats.Option{
		nats.Name("ciscofetch"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NatsPublisher{nc: nc, url: url}, nil
}

func (p *NatsPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.nc.Publish(subject, payload)
}

func (p *NatsPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}
