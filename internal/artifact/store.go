package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// ErrNotFound 本地没有该设备的制品
var ErrNotFound = errors.New("artifact not found")

// Error 本地读写错误（LocalIOError）
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Store 本地制品目录：<root>/<host>/<name>。
// 同一 (host, name) 的写入串行执行，写入先落临时文件再改名。
type Store struct {
	root  string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore 创建制品目录，目录在首次写入时才创建
func NewStore(root string) *Store {
	if strings.TrimSpace(root) == "" {
		root = "devices"
	}
	return &Store{root: root, locks: make(map[string]*sync.Mutex)}
}

// Root 根目录
func (s *Store) Root() string { return s.root }

// Path 制品的本地路径
func (s *Store) Path(host string, name Name) string {
	return filepath.Join(s.root, hostDir(host), string(name))
}

// hostDir 避免主机名中的路径分隔符逃出根目录
func hostDir(host string) string {
	h := strings.TrimSpace(host)
	h = strings.NewReplacer("/", "_", "\\", "_").Replace(h)
	if h == "" || h == "." || h == ".." {
		h = "_"
	}
	return h
}

func (s *Store) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// With 持有 (host, name) 的写锁并确保目录存在，fn 负责写入 path
func (s *Store) With(host string, name Name, fn func(path string) error) error {
	path := s.Path(host, name)
	l := s.lockFor(path)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Error{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	return fn(path)
}

// Write 原子写入制品内容，返回本地路径
func (s *Store) Write(host string, name Name, data []byte) (string, error) {
	var out string
	err := s.With(host, name, func(path string) error {
		out = path
		return writeAtomic(path, data)
	})
	if err != nil {
		return "", err
	}
	logger.WithField("path", out).Debugf("artifact written (%d bytes)", len(data))
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".part-*")
	if err != nil {
		return &Error{Op: "write", Path: path, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &Error{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &Error{Op: "write", Path: path, Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return &Error{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return &Error{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// Read 读取制品；文件不存在时返回包装了 ErrNotFound 的 *Error，不创建任何目录
func (s *Store) Read(host string, name Name) ([]byte, error) {
	path := s.Path(host, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Op: "read", Path: path, Err: ErrNotFound}
		}
		return nil, &Error{Op: "stat", Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &Error{Op: "read", Path: path, Err: fmt.Errorf("is a directory")}
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Op: "read", Path: path, Err: err}
	}
	return bs, nil
}
