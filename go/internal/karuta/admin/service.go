package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/mcdev12/karuta/go/internal/karuta/session"
	"github.com/rs/zerolog/log"
)

const (
	// ServiceName is the fully-qualified name of the admin service
	ServiceName = "karuta.admin.v1.AdminService"

	ListGroupsProcedure    = "/" + ServiceName + "/ListGroups"
	GetGroupStateProcedure = "/" + ServiceName + "/GetGroupState"
	ResetGroupProcedure    = "/" + ServiceName + "/ResetGroup"
)

var errGroupRequired = errors.New("group id is required")

// Registry is what the admin service reads and mutates
type Registry interface {
	Groups() []session.GroupSummary
	Group(id string) (*session.Group, bool)
	Connections() int64
}

// Deliverer pushes messages produced by admin actions to connected players
type Deliverer interface {
	Deliver(ctx context.Context, msgs []session.Outbound)
}

// Service implements the admin RPCs over connect
type Service struct {
	registry  Registry
	deliverer Deliverer
}

// NewService creates a new admin service. deliverer may be nil when nothing is connected.
func NewService(registry Registry, deliverer Deliverer) *Service {
	return &Service{
		registry:  registry,
		deliverer: deliverer,
	}
}

// ListGroups returns a summary of every live group
func (s *Service) ListGroups(ctx context.Context, req *connect.Request[ListGroupsRequest]) (*connect.Response[ListGroupsResponse], error) {
	groups := s.registry.Groups()
	if groups == nil {
		groups = []session.GroupSummary{}
	}
	return connect.NewResponse(&ListGroupsResponse{
		Groups:      groups,
		Connections: s.registry.Connections(),
	}), nil
}

// GetGroupState returns the snapshot and full ranking of one group
func (s *Service) GetGroupState(ctx context.Context, req *connect.Request[GetGroupStateRequest]) (*connect.Response[GetGroupStateResponse], error) {
	g, err := s.group(req.Msg.GroupID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&GetGroupStateResponse{
		State:   g.Snapshot(),
		Ranking: g.Ranking(),
	}), nil
}

// ResetGroup cancels the running session of a group and notifies its players
func (s *Service) ResetGroup(ctx context.Context, req *connect.Request[ResetGroupRequest]) (*connect.Response[ResetGroupResponse], error) {
	g, err := s.group(req.Msg.GroupID)
	if err != nil {
		return nil, err
	}

	msgs := g.Reset()
	if s.deliverer != nil {
		s.deliverer.Deliver(ctx, msgs)
	}

	log.Info().Str("group_id", g.ID()).Msg("group reset by admin")
	return connect.NewResponse(&ResetGroupResponse{State: g.Snapshot()}), nil
}

func (s *Service) group(id string) (*session.Group, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errGroupRequired)
	}
	g, ok := s.registry.Group(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("group %q: %w", id, session.ErrUnknownGroup))
	}
	return g, nil
}

// NewHandler mounts the admin procedures under the service path
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	listGroups := connect.NewUnaryHandler(ListGroupsProcedure, svc.ListGroups, opts...)
	getGroupState := connect.NewUnaryHandler(GetGroupStateProcedure, svc.GetGroupState, opts...)
	resetGroup := connect.NewUnaryHandler(ResetGroupProcedure, svc.ResetGroup, opts...)

	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ListGroupsProcedure:
			listGroups.ServeHTTP(w, r)
		case GetGroupStateProcedure:
			getGroupState.ServeHTTP(w, r)
		case ResetGroupProcedure:
			resetGroup.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
