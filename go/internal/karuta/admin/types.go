package admin

import (
	"github.com/mcdev12/karuta/go/internal/karuta/events"
	"github.com/mcdev12/karuta/go/internal/karuta/session"
)

type ListGroupsRequest struct{}

type ListGroupsResponse struct {
	Groups      []session.GroupSummary `json:"groups"`
	Connections int64                  `json:"connections"`
}

type GetGroupStateRequest struct {
	GroupID string `json:"groupId"`
}

type GetGroupStateResponse struct {
	State   events.StatePayload `json:"state"`
	Ranking []events.Standing   `json:"ranking"`
}

type ResetGroupRequest struct {
	GroupID string `json:"groupId"`
}

type ResetGroupResponse struct {
	State events.StatePayload `json:"state"`
}
