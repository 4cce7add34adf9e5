package hypr

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path/filepath"

	"github.com/go-logr/logr"
)

// Subscribe connects to the event socket in dir and streams parsed events
// until ctx is cancelled or the compositor closes the socket. The channel is
// closed when the stream ends. Unparseable lines are logged and skipped.
func Subscribe(ctx context.Context, dir string, log logr.Logger) (<-chan Event, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", filepath.Join(dir, eventSocket))
	if err != nil {
		return nil, fmt.Errorf("dial event socket: %w", err)
	}

	events := make(chan Event, 64)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	go func() {
		defer close(events)
		defer close(done)

		sc := bufio.NewScanner(conn)
		sc.Buffer(make([]byte, 0, 4096), 1<<20)
		for sc.Scan() {
			ev, err := ParseEvent(sc.Text())
			if err != nil {
				log.V(1).Info("skipping event", "err", err.Error())
				continue
			}
			if ev == nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			log.Error(err, "event socket read failed")
		}
	}()

	return events, nil
}
