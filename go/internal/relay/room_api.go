package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// RoomServiceName is the fully-qualified name of the room inspection service
	RoomServiceName = "racelight.v1.RoomService"

	RoomServiceListRoomsProcedure = "/racelight.v1.RoomService/ListRooms"
	RoomServiceGetRoomProcedure   = "/racelight.v1.RoomService/GetRoom"
)

// RoomService exposes the room store over Connect using well-known types
type RoomService struct {
	store *Store
}

// NewRoomService creates a new room inspection service
func NewRoomService(store *Store) *RoomService {
	return &RoomService{store: store}
}

// ListRooms returns every room as {"rooms": [...]}
func (s *RoomService) ListRooms(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	rooms := s.store.Rooms()
	list := make([]interface{}, 0, len(rooms))
	for _, info := range rooms {
		list = append(list, roomToMap(info))
	}

	resp, err := structpb.NewStruct(map[string]interface{}{"rooms": list})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(resp), nil
}

// GetRoom returns one room by code
func (s *RoomService) GetRoom(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	code := req.Msg.GetValue()
	if !ValidRoomCode(code) {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%w: %q", ErrInvalidRoomCode, code))
	}

	info, ok := s.store.Room(code)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: %s", ErrRoomNotFound, code))
	}

	resp, err := structpb.NewStruct(roomToMap(info))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(resp), nil
}

func roomToMap(info RoomInfo) map[string]interface{} {
	m := map[string]interface{}{
		"code":          info.Code,
		"members":       info.Members,
		"cycle_running": info.CycleRunning,
		"created_at":    info.CreatedAt.UTC().Format(time.RFC3339),
	}
	if info.State != nil {
		state := map[string]interface{}{"event": string(info.State.Phase)}
		if info.State.Phase == PhaseCountdown {
			state["time"] = info.State.Remaining
		}
		m["state"] = state
	}
	return m
}

// NewRoomServiceHandler builds an HTTP handler for RoomService and returns the
// path to mount it on
func NewRoomServiceHandler(svc *RoomService, opts ...connect.HandlerOption) (string, http.Handler) {
	listRooms := connect.NewUnaryHandler(RoomServiceListRoomsProcedure, svc.ListRooms, opts...)
	getRoom := connect.NewUnaryHandler(RoomServiceGetRoomProcedure, svc.GetRoom, opts...)

	return "/" + RoomServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case RoomServiceListRoomsProcedure:
			listRooms.ServeHTTP(w, r)
		case RoomServiceGetRoomProcedure:
			getRoom.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// RoomServiceClient is a Connect client for RoomService
type RoomServiceClient struct {
	listRooms *connect.Client[emptypb.Empty, structpb.Struct]
	getRoom   *connect.Client[wrapperspb.StringValue, structpb.Struct]
}

// NewRoomServiceClient creates a client for the service mounted at baseURL
func NewRoomServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RoomServiceClient {
	return &RoomServiceClient{
		listRooms: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+RoomServiceListRoomsProcedure, opts...),
		getRoom:   connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+RoomServiceGetRoomProcedure, opts...),
	}
}

func (c *RoomServiceClient) ListRooms(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return c.listRooms.CallUnary(ctx, req)
}

func (c *RoomServiceClient) GetRoom(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	return c.getRoom.CallUnary(ctx, req)
}
