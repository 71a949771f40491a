package libvirt

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/terabiome/clusterup/pkg/executor"
	"libvirt.org/go/libvirt"
)

// ConnectionManager owns one libvirt connection and the executor that runs
// host-side commands next to it. Callers hold the connection for the
// duration of one libvirt operation and release it through the returned
// unlock func, which serialises access across concurrent instance tasks.
type ConnectionManager struct {
	conn     *libvirt.Connect
	executor executor.Executor
	mu       sync.Mutex
	uri      string
	logger   *slog.Logger
}

func NewConnectionManager(uri string, exec executor.Executor, logger *slog.Logger) (*ConnectionManager, error) {
	conn, err := libvirt.NewConnect(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}

	logger.Info("libvirt connection established",
		slog.String("uri", uri),
		slog.String("executor", exec.Name()),
	)

	return &ConnectionManager{
		conn:     conn,
		executor: exec,
		uri:      uri,
		logger:   logger,
	}, nil
}

// Executor returns the host command executor. It needs no locking.
func (cm *ConnectionManager) Executor() executor.Executor {
	return cm.executor
}

func (cm *ConnectionManager) GetHypervisor() (*libvirt.Connect, func(), error) {
	cm.mu.Lock()

	alive, err := cm.conn.IsAlive()
	if err != nil || !alive {
		cm.logger.Warn("connection unhealthy, attempting reconnect")
		if err := cm.reconnect(); err != nil {
			cm.mu.Unlock()
			return nil, nil, err
		}
	}

	unlock := func() { cm.mu.Unlock() }
	return cm.conn, unlock, nil
}

func (cm *ConnectionManager) reconnect() error {
	if cm.conn != nil {
		_, _ = cm.conn.Close()
	}

	conn, err := libvirt.NewConnect(cm.uri)
	if err != nil {
		return fmt.Errorf("reconnection failed: %w", err)
	}

	cm.conn = conn
	cm.logger.Info("libvirt reconnected", slog.String("uri", cm.uri))
	return nil
}

func (cm *ConnectionManager) URI() string {
	return cm.uri
}

func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.conn != nil {
		cm.logger.Info("closing libvirt connection")
		_, err := cm.conn.Close()
		return err
	}
	return nil
}
