package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn captures written frames and can be told to fail writes.
type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	failNext bool
	closed   bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		return errors.New("write failed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.messages = append(c.messages, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) types(t *testing.T) []MessageType {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []MessageType
	for _, raw := range c.messages {
		var msg StreamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		out = append(out, msg.Type)
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestHubConnectedGreeting(t *testing.T) {
	hub := NewHub(time.Hour)
	conn := &fakeConn{}
	hub.AddClient(conn, "", "")

	waitFor(t, func() bool { return conn.count() >= 1 })

	types := conn.types(t)
	if types[0] != MsgConnected {
		t.Errorf("first message = %s, want connected", types[0])
	}
}

func TestHubGreetingPrecedesConcurrentBroadcasts(t *testing.T) {
	hub := NewHub(time.Hour)

	// Hammer the hub with broadcasts while clients subscribe; the greeting
	// must still be the first frame each client sees.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.Broadcast(MsgAgentEvent, map[string]string{"k": "v"}, "")
			}
		}
	}()

	conns := make([]*fakeConn, 10)
	for i := range conns {
		conns[i] = &fakeConn{}
		hub.AddClient(conns[i], "", "")
	}
	for _, c := range conns {
		waitFor(t, func() bool { return c.count() >= 1 })
	}
	close(stop)
	wg.Wait()

	for i, c := range conns {
		if types := c.types(t); types[0] != MsgConnected {
			t.Errorf("client %d: first message = %s, want connected", i, types[0])
		}
	}
}

func TestHubBroadcastFilters(t *testing.T) {
	hub := NewHub(time.Hour)
	hub.SetGroupResolver(func(groupID string) []string {
		if groupID == "grp-1" {
			return []string{"sess-a", "sess-b"}
		}
		return nil
	})

	all := &fakeConn{}
	sessA := &fakeConn{}
	sessC := &fakeConn{}
	grp := &fakeConn{}
	hub.AddClient(all, "", "")
	hub.AddClient(sessA, "sess-a", "")
	hub.AddClient(sessC, "sess-c", "")
	hub.AddClient(grp, "", "grp-1")

	// Wait out the greetings before counting broadcasts.
	for _, c := range []*fakeConn{all, sessA, sessC, grp} {
		waitFor(t, func() bool { return c.count() >= 1 })
	}

	hub.Broadcast(MsgAgentEvent, map[string]string{"k": "v"}, "sess-a")

	waitFor(t, func() bool { return all.count() >= 2 && sessA.count() >= 2 && grp.count() >= 2 })

	if got := sessC.count(); got != 1 {
		t.Errorf("mismatched session filter received %d messages, want greeting only", got)
	}

	// A message with no origin reaches every subscriber.
	hub.Broadcast(MsgTaskStatus, map[string]string{}, "")
	waitFor(t, func() bool { return sessC.count() >= 2 })
}

func TestHubGroupFilterRejectsOutsiders(t *testing.T) {
	hub := NewHub(time.Hour)
	hub.SetGroupResolver(func(groupID string) []string {
		return []string{"sess-a"}
	})

	grp := &fakeConn{}
	hub.AddClient(grp, "", "grp-1")
	waitFor(t, func() bool { return grp.count() >= 1 })

	hub.Broadcast(MsgAgentEvent, nil, "sess-other")

	// Give delivery a moment, then confirm nothing beyond the greeting.
	time.Sleep(50 * time.Millisecond)
	if got := grp.count(); got != 1 {
		t.Errorf("group subscriber received %d messages, want greeting only", got)
	}
}

func TestHubRemovesDeadSubscriber(t *testing.T) {
	hub := NewHub(time.Hour)
	conn := &fakeConn{failNext: true}
	hub.AddClient(conn, "", "")

	// The greeting write fails, which tears the client down.
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("dead subscriber connection not closed")
	}
}

func TestHubHeartbeat(t *testing.T) {
	hub := NewHub(20 * time.Millisecond)
	conn := &fakeConn{}
	hub.AddClient(conn, "", "")

	waitFor(t, func() bool {
		for _, mt := range conn.types(t) {
			if mt == MsgHeartbeat {
				return true
			}
		}
		return false
	})
}

func TestHubHeartbeatStopsWhenIdle(t *testing.T) {
	hub := NewHub(10 * time.Millisecond)
	conn := &fakeConn{}
	c := hub.AddClient(conn, "", "")

	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.heartbeatOn
	})

	hub.RemoveClient(c)

	// The loop notices the empty client set at its next tick and exits.
	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return !hub.heartbeatOn
	})

	// A new subscriber restarts it.
	conn2 := &fakeConn{}
	hub.AddClient(conn2, "", "")
	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.heartbeatOn
	})
}

func TestHubShutdown(t *testing.T) {
	hub := NewHub(time.Hour)
	a := &fakeConn{}
	b := &fakeConn{}
	hub.AddClient(a, "", "")
	hub.AddClient(b, "", "")

	hub.Shutdown()

	if hub.ClientCount() != 0 {
		t.Errorf("client count after shutdown = %d", hub.ClientCount())
	}
}
