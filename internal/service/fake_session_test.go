package service

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/sshcollectorpro/ciscofetch/internal/artifact"
	"github.com/sshcollectorpro/ciscofetch/pkg/ssh"
)

// fakeFleet 记录所有会话的调用，按主机模拟设备行为
type fakeFleet struct {
	mu        sync.Mutex
	down      map[string]bool
	panicHost string
	outputs   map[string]string
	files     map[string]string

	sessions  int
	closed    int
	connects  []ssh.ConnectionInfo
	commands  [][]string
	downloads []string
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		down: map[string]bool{},
		outputs: map[string]string{
			"show version":      "Cisco IOS Software\r\nR1#",
			"terminal length 0": "R1#",
			"show tech":         "------------------ show version ------------------\r\n --More-- \r\nCisco IOS Software\r\nR1#",
		},
		files: map[string]string{
			"running-config": "!\r\nhostname R1\r\n!\r\nend\r\n",
		},
	}
}

func (f *fakeFleet) factory() SessionFactory {
	return func() Session {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sessions++
		return &fakeSession{fleet: f}
	}
}

type fakeSession struct {
	fleet     *fakeFleet
	connected bool
}

func (s *fakeSession) Connect(ctx context.Context, info *ssh.ConnectionInfo) error {
	f := s.fleet
	f.mu.Lock()
	f.connects = append(f.connects, *info)
	down := f.down[info.Host]
	panicHost := f.panicHost
	f.mu.Unlock()

	if info.Host == panicHost {
		panic("driver exploded")
	}
	if down {
		return &ssh.Error{Kind: ssh.KindConnect, Msg: ssh.MsgConnectFailed, Err: errors.New("connection refused")}
	}
	s.connected = true
	return nil
}

func (s *fakeSession) Run(ctx context.Context, commands []string) ([]ssh.CommandResult, error) {
	if !s.connected {
		return nil, &ssh.Error{Kind: ssh.KindSession, Msg: ssh.MsgChannelNotOpen}
	}
	f := s.fleet
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, append([]string(nil), commands...))
	out := make([]ssh.CommandResult, 0, len(commands))
	for _, c := range commands {
		out = append(out, ssh.CommandResult{Command: c, Output: f.outputs[c]})
	}
	return out, nil
}

func (s *fakeSession) Download(ctx context.Context, remote, localPath string) (string, error) {
	if !s.connected {
		return "", &ssh.Error{Kind: ssh.KindSession, Msg: ssh.MsgDownloadFailed}
	}
	f := s.fleet
	f.mu.Lock()
	f.downloads = append(f.downloads, remote)
	content, ok := f.files[remote]
	f.mu.Unlock()
	if !ok {
		return "", &ssh.Error{Kind: ssh.KindSession, Msg: ssh.MsgDownloadFailed, Err: os.ErrNotExist}
	}
	if err := os.WriteFile(localPath, []byte(content), 0o644); err != nil {
		return "", &ssh.Error{Kind: ssh.KindSession, Msg: ssh.MsgDownloadFailed, Err: err}
	}
	return localPath, nil
}

func (s *fakeSession) Close() error {
	s.fleet.mu.Lock()
	defer s.fleet.mu.Unlock()
	s.fleet.closed++
	return nil
}

type fakeMirror struct {
	mu   sync.Mutex
	puts []string
	err  error
}

func (m *fakeMirror) Put(ctx context.Context, host string, name artifact.Name, localPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, host+"/"+string(name))
	if m.err != nil {
		return "", m.err
	}
	return "minio://bucket/" + host + "/" + string(name), nil
}
