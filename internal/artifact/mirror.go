package artifact

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// Mirror 将本地制品复制到远端存储
type Mirror interface {
	Put(ctx context.Context, host string, name Name, localPath string) (string, error)
}

// MinioMirror MinIO 对象存储镜像
type MinioMirror struct {
	cfg      config.MinioConfig
	client   *minio.Client
	endpoint string

	mu            sync.Mutex
	bucketEnsured bool
}

// NewMinioMirror 根据配置创建镜像；未配置 host 时返回 nil
func NewMinioMirror(cfg config.MinioConfig) (*MinioMirror, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, nil
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("minio port not configured")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("minio bucket not configured")
	}
	endpoint := net.JoinHostPort(host, fmt.Sprint(cfg.Port))

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   16,
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client initialization failed: %w", err)
	}
	return &MinioMirror{cfg: cfg, client: client, endpoint: endpoint}, nil
}

// ObjectName 对象路径：<prefix>/<host>/<name>
func (m *MinioMirror) ObjectName(host string, name Name) string {
	parts := []string{}
	if p := strings.Trim(strings.TrimSpace(m.cfg.Prefix), "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, hostDir(host), string(name))
	return path.Join(parts...)
}

// Put 上传本地文件，带有限重试
func (m *MinioMirror) Put(ctx context.Context, host string, name Name, localPath string) (string, error) {
	bucket := m.cfg.Bucket
	if err := m.ensureBucket(ctx, bucket); err != nil {
		return "", fmt.Errorf("minio ensure bucket failed: %w", err)
	}

	object := m.ObjectName(host, name)
	var lastErr error
	for i, wait := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		attemptCtx, cancel := attemptContext(ctx, 30*time.Second)
		_, err := m.client.FPutObject(attemptCtx, bucket, object, localPath, minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		logger.WithFields(logrus.Fields{"object": object, "attempt": i + 1}).Debugf("minio put failed: %v", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}
	return "minio://" + path.Join(bucket, object), nil
}

func (m *MinioMirror) ensureBucket(ctx context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bucketEnsured {
		return nil
	}
	attemptCtx, cancel := attemptContext(ctx, 10*time.Second)
	defer cancel()
	exists, err := m.client.BucketExists(attemptCtx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.client.MakeBucket(attemptCtx, bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	m.bucketEnsured = true
	return nil
}

// attemptContext 单次尝试的限时上下文，不超过父上下文的截止时间
func attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) < prefer {
		return context.WithDeadline(parent, deadline)
	}
	return context.WithTimeout(parent, prefer)
}
