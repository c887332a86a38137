//go:build linux

package ime

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// preeditMatchRules select the InputContext1 traffic the preedit monitor
// needs. Client calls are included so focus loss clears composition.
var preeditMatchRules = []string{
	"type='signal',interface='" + FcitxInputContextInterface + "'",
	"type='method_call',interface='" + FcitxInputContextInterface + "',member='FocusOut'",
	"type='method_call',interface='" + FcitxInputContextInterface + "',member='Reset'",
	"type='method_call',interface='" + FcitxInputContextInterface + "',member='DestroyIC'",
}

func newPlatformSource() (Source, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: session bus: %v", ErrNotAvailable, err)
	}

	var owner bool
	err = conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, FcitxService).Store(&owner)
	if err != nil || !owner {
		return nil, fmt.Errorf("%w: %s not on the session bus", ErrNotAvailable, FcitxService)
	}

	// Without a monitor the source still reports native script.
	preedit, _ := watchPreedit()

	obj := conn.Object(FcitxService, dbus.ObjectPath(FcitxControllerPath))
	return newFcitx5(func(ctx context.Context, method string, out any) error {
		return obj.CallWithContext(ctx, FcitxControllerInterface+"."+method, 0).Store(out)
	}, preedit), nil
}

// watchPreedit turns a private session-bus connection into a monitor for
// InputContext1 traffic and feeds it to a tracker for the life of the
// process. Frontends that bypass D-Bus (XIM, Wayland input-method) are not
// seen.
func watchPreedit() (*preeditTracker, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	call := conn.BusObject().Call("org.freedesktop.DBus.Monitoring.BecomeMonitor", 0, preeditMatchRules, uint32(0))
	if call.Err != nil {
		conn.Close()
		return nil, fmt.Errorf("become monitor: %w", call.Err)
	}

	// Eavesdrop diverts every incoming message, so it is set only after
	// the BecomeMonitor reply has been read.
	msgs := make(chan *dbus.Message, 64)
	conn.Eavesdrop(msgs)

	p := &preeditTracker{}
	go func() {
		for msg := range msgs {
			iface, _ := msg.Headers[dbus.FieldInterface].Value().(string)
			if iface != FcitxInputContextInterface {
				continue
			}
			member, _ := msg.Headers[dbus.FieldMember].Value().(string)
			p.observe(member, msg.Body)
		}
	}()
	return p, nil
}
