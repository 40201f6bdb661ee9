package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/park285/roomlink/internal/domain"
)

const (
	DefaultPageSize    = 12
	DefaultPlayerCount = 10
	DefaultPickMode    = "random"
	DefaultGameType    = "LOL"
)

type PageMeta struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// RoomPage is one page of the public room list.
type RoomPage struct {
	Rooms []domain.Room
	Meta  PageMeta
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	GameType    string `json:"gameType"`
	PlayerCount int    `json:"playerCount"`
	PickMode    string `json:"pickMode"`
	Description string `json:"description"`
	Password    string `json:"password"`
}

// roomList accepts both {rooms: [...]} and a bare array.
type roomList []domain.Room

func (l *roomList) UnmarshalJSON(b []byte) error {
	var wrapped struct {
		Rooms []domain.Room `json:"rooms"`
	}
	if err := json.Unmarshal(b, &wrapped); err == nil && wrapped.Rooms != nil {
		*l = wrapped.Rooms
		return nil
	}
	var bare []domain.Room
	if err := json.Unmarshal(b, &bare); err != nil {
		return err
	}
	*l = bare
	return nil
}

// roomOne accepts both {room: {...}} and a bare room.
type roomOne domain.Room

func (r *roomOne) UnmarshalJSON(b []byte) error {
	var wrapped struct {
		Room *domain.Room `json:"room"`
	}
	if err := json.Unmarshal(b, &wrapped); err == nil && wrapped.Room != nil {
		*r = roomOne(*wrapped.Room)
		return nil
	}
	var bare domain.Room
	if err := json.Unmarshal(b, &bare); err != nil {
		return err
	}
	*r = roomOne(bare)
	return nil
}

// ListRooms returns one page of rooms. page starts at 1.
func (c *Client) ListRooms(ctx context.Context, page, limit int) (RoomPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var rooms roomList
	meta, err := c.doJSON(ctx, fasthttp.MethodGet, "/rooms?"+q.Encode(), nil, &rooms, true)
	if err != nil {
		return RoomPage{}, err
	}
	out := RoomPage{Rooms: []domain.Room(rooms)}
	if meta != nil {
		out.Meta = *meta
	} else {
		out.Meta = PageMeta{Total: len(rooms), Page: page, Limit: limit}
	}
	return out, nil
}

// ListMyRooms returns rooms the user created plus rooms where the user holds
// a player slot, without duplicates.
func (c *Client) ListMyRooms(ctx context.Context, userID string) ([]domain.Room, error) {
	var created roomList
	if _, err := c.doJSON(ctx, fasthttp.MethodGet, "/users/me/rooms", nil, &created, true); err != nil {
		return nil, err
	}
	out := []domain.Room(created)
	all, err := c.ListRooms(ctx, 1, 100)
	if err != nil {
		c.logger.Warn("api_list_joined_failed")
		return out, nil
	}
	seen := make(map[string]struct{}, len(out))
	for _, r := range out {
		seen[r.ID] = struct{}{}
	}
	for _, r := range all.Rooms {
		if _, dup := seen[r.ID]; dup || r.CreatorID == userID || r.PlayerIndex(userID) < 0 {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// CreateRoom fills unset fields with the service defaults.
func (c *Client) CreateRoom(ctx context.Context, in CreateRoomRequest) (domain.Room, error) {
	if in.Name == "" {
		return domain.Room{}, fmt.Errorf("create room: name is required")
	}
	if in.GameType == "" {
		in.GameType = DefaultGameType
	}
	if in.PlayerCount <= 0 {
		in.PlayerCount = DefaultPlayerCount
	}
	if in.PickMode == "" {
		in.PickMode = DefaultPickMode
	}
	var r roomOne
	if _, err := c.doJSON(ctx, fasthttp.MethodPost, "/rooms", in, &r, false); err != nil {
		return domain.Room{}, err
	}
	return domain.Room(r), nil
}

func (c *Client) GetRoom(ctx context.Context, id string) (domain.Room, error) {
	if id == "" {
		return domain.Room{}, fmt.Errorf("get room: empty id")
	}
	var r roomOne
	if _, err := c.doJSON(ctx, fasthttp.MethodGet, "/rooms/"+url.PathEscape(id), nil, &r, true); err != nil {
		return domain.Room{}, err
	}
	return domain.Room(r), nil
}
