package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type testServer struct {
	*httptest.Server
	service *Service
	clock   *clockwork.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := clockwork.NewFakeClock()

	config := DefaultConfig()
	config.RateLimit = 0
	service := NewService(config,
		WithServiceClock(clock),
		WithServiceHoldFunc(func() time.Duration { return testHold }),
	)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		service.Stop()
	})

	return &testServer{Server: srv, service: service, clock: clock}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *testServer) advance(t *testing.T, d time.Duration) {
	t.Helper()
	s.clock.Advance(d)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("cycle did not park: %v", err)
	}
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expect(t *testing.T, conn *websocket.Conn, want ServerMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got ServerMessage
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read %+v: %v", want, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("message mismatch (-want +got):\n%s", diff)
	}
}

func TestRelayEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	// A creates and starts receiving the countdown
	a := srv.dial(t, "/")
	send(t, a, `{"action":"create","room":"1234"}`)
	expect(t, a, InfoMessage("Created room 1234"))
	expect(t, a, StateMessage(Countdown(10)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("cycle did not park: %v", err)
	}
	for n := 9; n >= 6; n-- {
		srv.advance(t, time.Second)
		expect(t, a, StateMessage(Countdown(n)))
	}

	// B joins mid-countdown and gets the current state, not 10
	b := srv.dial(t, "/ws")
	send(t, b, `{"action":"join","room":"1234"}`)
	expect(t, b, InfoMessage("Joined room 1234"))
	expect(t, b, StateMessage(Countdown(6)))

	srv.advance(t, time.Second)
	expect(t, a, StateMessage(Countdown(5)))
	expect(t, b, StateMessage(Countdown(5)))

	// C asks for a room that does not exist
	c := srv.dial(t, "/")
	send(t, c, `{"action":"join","room":"9999"}`)
	expect(t, c, InfoMessage("Room 9999 not found"))
	send(t, c, `{"action":"join"`)
	expect(t, c, InfoMessage("Invalid payload"))

	store := srv.service.Store()
	if store.Len() != 1 {
		t.Errorf("wrong room count expected: 1 got: %d", store.Len())
	}

	// A leaving keeps the room alive for B
	a.Close()
	eventually(t, "A to leave", func() bool {
		info, ok := store.Room("1234")
		return ok && info.Members == 1
	})
	srv.advance(t, time.Second)
	expect(t, b, StateMessage(Countdown(4)))

	// B leaving deletes the room and stops its cycle
	b.Close()
	eventually(t, "room to be deleted", func() bool { return store.Len() == 0 })
	eventually(t, "cycle to exit", func() bool { return srv.service.Scheduler().Running() == 0 })
}

func TestInspectionEndpoints(t *testing.T) {
	srv := newTestServer(t)

	a := srv.dial(t, "/")
	send(t, a, `{"action":"create","room":"1234"}`)
	expect(t, a, InfoMessage("Created room 1234"))
	expect(t, a, StateMessage(Countdown(10)))

	t.Run("room state", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/rooms/1234/state")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()

		var got RoomStateResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Code != "1234" || got.Members != 1 || !got.CycleRunning {
			t.Errorf("unexpected room state %+v", got)
		}
		if got.State == nil || *got.State != StateMessage(Countdown(10)) {
			t.Errorf("wrong state %+v", got.State)
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/rooms/0000/state")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("wrong status expected: 404 got: %d", resp.StatusCode)
		}
	})

	t.Run("room list", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/rooms")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()

		var got []RoomStateResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != 1 || got[0].Code != "1234" {
			t.Errorf("unexpected room list %+v", got)
		}
	})

	t.Run("connection stats", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/ws/stats")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()

		var got ConnectionStats
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := ConnectionStats{TotalConnections: 1, ActiveRooms: 1, RunningCycles: 1}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("stats mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("room service", func(t *testing.T) {
		client := NewRoomServiceClient(srv.Client(), srv.URL)
		ctx := context.Background()

		list, err := client.ListRooms(ctx, connect.NewRequest(&emptypb.Empty{}))
		if err != nil {
			t.Fatalf("list rooms: %v", err)
		}
		rooms := list.Msg.GetFields()["rooms"].GetListValue().GetValues()
		if len(rooms) != 1 {
			t.Fatalf("wrong room count expected: 1 got: %d", len(rooms))
		}

		room, err := client.GetRoom(ctx, connect.NewRequest(wrapperspb.String("1234")))
		if err != nil {
			t.Fatalf("get room: %v", err)
		}
		fields := room.Msg.GetFields()
		if fields["members"].GetNumberValue() != 1 {
			t.Errorf("wrong members %v", fields["members"])
		}
		state := fields["state"].GetStructValue().GetFields()
		if state["event"].GetStringValue() != "countdown" || state["time"].GetNumberValue() != 10 {
			t.Errorf("wrong state %v", state)
		}

		_, err = client.GetRoom(ctx, connect.NewRequest(wrapperspb.String("0000")))
		if connect.CodeOf(err) != connect.CodeNotFound {
			t.Errorf("wrong code expected: %v got: %v", connect.CodeNotFound, connect.CodeOf(err))
		}

		_, err = client.GetRoom(ctx, connect.NewRequest(wrapperspb.String("bad code")))
		if connect.CodeOf(err) != connect.CodeInvalidArgument {
			t.Errorf("wrong code expected: %v got: %v", connect.CodeInvalidArgument, connect.CodeOf(err))
		}
	})
}

func TestUpgradeRateLimit(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = 1
	service := NewService(config)
	defer service.Stop()

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("second dial within the window should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %v", resp)
	}
}
