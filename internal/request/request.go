// Package request waits for org.freedesktop.portal.Request responses.
package request

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screenrec/internal/apis"
)

var ErrUnexpectedResponse = errors.New("unexpected response from dbus")

const (
	interfaceName  = "org.freedesktop.portal.Request"
	responseMember = "Response"
	closeCallName  = interfaceName + ".Close"
)

type ResponseStatus = uint32

const (
	Success   ResponseStatus = 0
	Cancelled ResponseStatus = 1
	Ended     ResponseStatus = 2
)

// Close dismisses a pending request, closing any dialog it opened.
func Close(ctx context.Context, path dbus.ObjectPath) error {
	return apis.CallOnObject(ctx, path, closeCallName)
}

// Path predicts the object path the portal will use for a request created
// with handle_token token.
func Path(token string) (dbus.ObjectPath, error) {
	sender, err := apis.SenderToken()
	if err != nil {
		return "", err
	}
	return dbus.ObjectPath(apis.ObjectPath + "/request/" + sender + "/" + token), nil
}

// Pending is a request whose Response signal is being watched.
type Pending struct {
	path dbus.ObjectPath
	sub  *apis.Subscription
}

// Expect starts watching for the response to a request created with
// handle_token token. Call it before issuing the method call.
func Expect(token string) (*Pending, error) {
	path, err := Path(token)
	if err != nil {
		return nil, err
	}
	sub, err := apis.Subscribe(interfaceName, responseMember)
	if err != nil {
		return nil, err
	}
	return &Pending{path: path, sub: sub}, nil
}

// Retarget follows the handle actually returned by the method call. Portals
// older than version 0.9 do not honour handle_token.
func (p *Pending) Retarget(result any) error {
	path, ok := result.(dbus.ObjectPath)
	if !ok {
		return fmt.Errorf("%w: request handle has type %T", ErrUnexpectedResponse, result)
	}
	p.path = path
	return nil
}

// Wait blocks until the response arrives or ctx is done. On cancellation the
// request is closed so the dialog disappears.
func (p *Pending) Wait(ctx context.Context) (ResponseStatus, map[string]dbus.Variant, error) {
	for {
		select {
		case <-ctx.Done():
			_ = Close(context.WithoutCancel(ctx), p.path)
			return Ended, nil, ctx.Err()
		case sig, ok := <-p.sub.C:
			if !ok {
				return Ended, nil, ErrUnexpectedResponse
			}
			if sig.Path != p.path {
				continue
			}
			return parseResponse(sig.Body)
		}
	}
}

// Close stops watching.
func (p *Pending) Close() error {
	return p.sub.Close()
}

func parseResponse(body []any) (ResponseStatus, map[string]dbus.Variant, error) {
	if len(body) != 2 {
		return Ended, nil, ErrUnexpectedResponse
	}
	status, ok := body[0].(uint32)
	if !ok {
		return Ended, nil, fmt.Errorf("%w: status has type %T", ErrUnexpectedResponse, body[0])
	}
	results, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return Ended, nil, fmt.Errorf("%w: results have type %T", ErrUnexpectedResponse, body[1])
	}
	return status, results, nil
}
