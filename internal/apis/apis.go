// Package apis holds the low-level D-Bus plumbing shared by the portal
// clients.
package apis

import (
	"context"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	ObjectName        = "org.freedesktop.portal.Desktop"
	ObjectPath        = "/org/freedesktop/portal/desktop"
	CallBaseName      = "org.freedesktop.portal"
	PropertiesGetName = "org.freedesktop.DBus.Properties.Get"
)

// Call invokes a portal method on the desktop object and stores its single
// reply value.
func Call(ctx context.Context, callName string, args ...any) (any, error) {
	call, err := callOnObject(ctx, ObjectPath, callName, args...)
	if err != nil {
		return nil, err
	}

	var result any
	err = call.Store(&result)
	return result, err
}

// CallStore invokes a portal method and decodes the reply into out.
func CallStore(ctx context.Context, callName string, out any, args ...any) error {
	call, err := callOnObject(ctx, ObjectPath, callName, args...)
	if err != nil {
		return err
	}
	return call.Store(out)
}

// CallOnObject invokes a method on a request or session object and discards
// the reply.
func CallOnObject(ctx context.Context, path dbus.ObjectPath, callName string, args ...any) error {
	_, err := callOnObject(ctx, path, callName, args...)
	return err
}

func callOnObject(ctx context.Context, path dbus.ObjectPath, callName string, args ...any) (*dbus.Call, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}

	obj := conn.Object(ObjectName, path)
	call := obj.CallWithContext(ctx, callName, 0, args...)
	return call, call.Err
}

func GetProperty(interfaceName, property string) (any, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}

	obj := conn.Object(ObjectName, ObjectPath)
	call := obj.Call(PropertiesGetName, 0, interfaceName, property)
	if call.Err != nil {
		return nil, call.Err
	}

	var value any
	err = call.Store(&value)
	return value, err
}

// SenderToken returns this connection's unique bus name in the form the
// portal embeds in request and session object paths.
func SenderToken() (string, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return "", err
	}
	names := conn.Names()
	if len(names) == 0 {
		return "", dbus.ErrClosed
	}
	return strings.ReplaceAll(strings.TrimPrefix(names[0], ":"), ".", "_"), nil
}

// Subscription delivers one signal member of one interface until Close.
type Subscription struct {
	C <-chan *dbus.Signal

	conn *dbus.Conn
	ch   chan *dbus.Signal
	opts []dbus.MatchOption
}

// Subscribe registers a match rule for iface.member. Subscribing before the
// call that triggers the signal guarantees the reply is not missed.
func Subscribe(iface, member string) (*Subscription, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}

	opts := []dbus.MatchOption{
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(member),
	}
	if err := conn.AddMatchSignal(opts...); err != nil {
		return nil, err
	}

	ch := make(chan *dbus.Signal, 8)
	conn.Signal(ch)
	return &Subscription{C: ch, conn: conn, ch: ch, opts: opts}, nil
}

// Close removes the match rule and stops delivery.
func (s *Subscription) Close() error {
	s.conn.RemoveSignal(s.ch)
	return s.conn.RemoveMatchSignal(s.opts...)
}
