package admin

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the admin service
type Client struct {
	listGroups    *connect.Client[ListGroupsRequest, ListGroupsResponse]
	getGroupState *connect.Client[GetGroupStateRequest, GetGroupStateResponse]
	resetGroup    *connect.Client[ResetGroupRequest, ResetGroupResponse]
}

// NewClient creates a client for the admin service at baseURL
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		listGroups:    connect.NewClient[ListGroupsRequest, ListGroupsResponse](httpClient, baseURL+ListGroupsProcedure, opts...),
		getGroupState: connect.NewClient[GetGroupStateRequest, GetGroupStateResponse](httpClient, baseURL+GetGroupStateProcedure, opts...),
		resetGroup:    connect.NewClient[ResetGroupRequest, ResetGroupResponse](httpClient, baseURL+ResetGroupProcedure, opts...),
	}
}

func (c *Client) ListGroups(ctx context.Context) (*ListGroupsResponse, error) {
	resp, err := c.listGroups.CallUnary(ctx, connect.NewRequest(&ListGroupsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) GetGroupState(ctx context.Context, groupID string) (*GetGroupStateResponse, error) {
	resp, err := c.getGroupState.CallUnary(ctx, connect.NewRequest(&GetGroupStateRequest{GroupID: groupID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) ResetGroup(ctx context.Context, groupID string) (*ResetGroupResponse, error) {
	resp, err := c.resetGroup.CallUnary(ctx, connect.NewRequest(&ResetGroupRequest{GroupID: groupID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
