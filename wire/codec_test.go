package wire

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		give any
		want any
	}{
		{
			name: "authenticate",
			give: Authenticate{Token: "tok-A"},
			want: &Authenticate{},
		},
		{
			name: "authenticate result",
			give: AuthenticateResult{OK: 1, UserID: 100, DisplayName: "alice", AvatarURL: "https://example.com/a.png"},
			want: &AuthenticateResult{},
		},
		{
			name: "create room",
			give: CreateRoom{Name: "r1", Capacity: 4},
			want: &CreateRoom{},
		},
		{
			name: "room state update with optional chart",
			give: RoomStateUpdate{
				RoomID:     "r1",
				Name:       "room one",
				HostUserID: 100,
				State:      1,
				Capacity:   4,
				Members: []MemberState{
					{UserID: 100, DisplayName: "alice", Ready: 1},
					{UserID: 200, DisplayName: "bob", Ready: 0},
				},
				Chart: &ChartDescriptor{ChartID: "c1", Name: "song", Level: "Lv.12"},
			},
			want: &RoomStateUpdate{},
		},
		{
			name: "room state update without optional chart",
			give: RoomStateUpdate{RoomID: "r2", Name: "room two"},
			want: &RoomStateUpdate{},
		},
		{
			name: "game end with results",
			give: GameEnd{Results: []ScoreResult{
				{UserID: 100, Score: 980000, Accuracy: 990000},
				{UserID: 300, Aborted: 1},
			}},
			want: &GameEnd{},
		},
		{
			name: "error frame",
			give: Error{Code: CodeRoomFull, Message: "room is at capacity"},
			want: &Error{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, Marshal(tt.give, buf))
			require.NoError(t, Unmarshal(tt.want, buf))
			assert.Equal(t, tt.give, reflect.ValueOf(tt.want).Elem().Interface())
		})
	}
}

func TestParseWireTag(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		want    wireTag
		wantErr bool
	}{
		{
			name: "len_prefix uint16",
			tag:  `wire:"len_prefix=uint16"`,
			want: wireTag{hasLenPrefix: true, lenPrefix: reflect.Uint16},
		},
		{
			name:    "conflicting prefixes",
			tag:     `wire:"len_prefix=uint16,count_prefix=uint8"`,
			wantErr: true,
		},
		{
			name:    "unsupported prefix type",
			tag:     `wire:"len_prefix=uint64"`,
			wantErr: true,
		},
		{
			name: "optional and nullterm",
			tag:  `wire:"optional,nullterm"`,
			want: wireTag{optional: true, nullTerminated: true},
		},
		{
			name: "no wire tag",
			tag:  `json:"name"`,
			want: wireTag{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWireTag(reflect.StructTag(tt.tag))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.hasLenPrefix, got.hasLenPrefix)
			assert.Equal(t, tt.want.hasCountPrefix, got.hasCountPrefix)
			assert.Equal(t, tt.want.optional, got.optional)
			assert.Equal(t, tt.want.nullTerminated, got.nullTerminated)
		})
	}
}
