package indicator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest = "org.freedesktop.Notifications"
	notificationsPath = dbus.ObjectPath("/org/freedesktop/Notifications")
)

// Notifier posts one desktop notification.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// DesktopNotifier sends freedesktop notifications over the session bus. Each
// notification replaces the previous one.
type DesktopNotifier struct {
	appName   string
	timeoutMS int32

	mu     sync.Mutex
	conn   *dbus.Conn
	lastID uint32
}

func NewDesktopNotifier(appName string, timeoutMS int32) *DesktopNotifier {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		appName = "rebuttal"
	}
	return &DesktopNotifier{appName: appName, timeoutMS: timeoutMS}
}

func (d *DesktopNotifier) Notify(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("desktop notify: connect session bus: %w", err)
		}
		d.conn = conn
	}

	call := d.conn.Object(notificationsDest, notificationsPath).CallWithContext(
		ctx,
		notificationsDest+".Notify",
		0,
		d.appName,
		d.lastID,
		"",
		text,
		"",
		[]string{},
		map[string]dbus.Variant{},
		d.timeoutMS,
	)
	if call.Err != nil {
		return fmt.Errorf("desktop notify failed: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("desktop notify parse id: %w", err)
	}
	d.lastID = id
	return nil
}

// Close releases the bus connection.
func (d *DesktopNotifier) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}
