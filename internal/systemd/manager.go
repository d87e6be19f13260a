// Package systemd integrates gethkeeper with the service manager: readiness
// and watchdog notifications over NOTIFY_SOCKET, and unit control over D-Bus.
package systemd

import (
	"context"

	"github.com/coreos/go-systemd/v22/dbus"
)

// UnitStatus is the state of a systemd unit.
type UnitStatus struct {
	Unit        string
	ActiveState string
	SubState    string
}

// Manager handles systemd unit operations via D-Bus.
type Manager struct {
	conn *dbus.Conn
}

// NewManager connects to the system bus, or to the user bus when user is set.
func NewManager(ctx context.Context, user bool) (*Manager, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if user {
		conn, err = dbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &Manager{conn: conn}, nil
}

// Status retrieves the ActiveState and SubState properties of a unit.
func (m *Manager) Status(ctx context.Context, unit string) (UnitStatus, error) {
	props, err := m.conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		return UnitStatus{}, err
	}
	status := UnitStatus{Unit: unit}
	status.ActiveState, _ = props["ActiveState"].(string)
	status.SubState, _ = props["SubState"].(string)
	return status, nil
}

// Restart restarts a unit using the replace mode and waits for the job.
func (m *Manager) Restart(ctx context.Context, unit string) (string, error) {
	return m.runJob(ctx, unit, m.conn.RestartUnitContext)
}

// Stop stops a unit using the replace mode and waits for the job.
func (m *Manager) Stop(ctx context.Context, unit string) (string, error) {
	return m.runJob(ctx, unit, m.conn.StopUnitContext)
}

type jobFunc func(ctx context.Context, name, mode string, ch chan<- string) (int, error)

// runJob starts a unit job and returns its result, e.g. "done" or "failed".
func (m *Manager) runJob(ctx context.Context, unit string, job jobFunc) (string, error) {
	ch := make(chan string, 1)
	if _, err := job(ctx, unit, "replace", ch); err != nil {
		return "", err
	}
	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close cleanly closes the D-Bus connection.
func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}
