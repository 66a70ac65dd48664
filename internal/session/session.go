// Package session manages org.freedesktop.portal.Session objects.
package session

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screenrec/internal/apis"
)

const (
	interfaceName = "org.freedesktop.portal.Session"
	closeCallName = interfaceName + ".Close"
)

// Close ends a portal session. Streams opened through it stop delivering.
func Close(ctx context.Context, path dbus.ObjectPath) error {
	return apis.CallOnObject(ctx, path, closeCallName)
}

// NewToken returns a handle token unique enough for one process. Tokens must
// be valid object path elements.
func NewToken() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<32))
	if err != nil {
		return "screenrec0"
	}
	return "screenrec" + strconv.FormatUint(n.Uint64(), 16)
}
