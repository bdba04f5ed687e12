package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewStringCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

func (m *mockClient) Close() error {
	return m.Called().Error(0)
}

type record struct {
	Group   string `json:"group"`
	Variant int    `json:"variant"`
}

func (r record) MessageKey() string { return r.Group }

func (r record) MessageAttributes() map[string]string {
	return map[string]string{"variant": "1"}
}

func TestPublishXAdd(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("XAdd", mock.Anything, mock.MatchedBy(func(a *redis.XAddArgs) bool {
		if a.Stream != "variants" || a.MaxLen != 1000 || !a.Approx {
			return false
		}
		values, ok := a.Values.(map[string]any)
		if !ok || values["key"] != "g1" || values["variant"] != "1" {
			return false
		}
		var got record
		return json.Unmarshal([]byte(values["data"].(string)), &got) == nil && got.Variant == 1
	})).Return(nil).Once()

	p := NewWithClient(client, "variants", 1000)
	id, err := p.Publish(context.Background(), "", record{Group: "g1", Variant: 1})
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", id)
	client.AssertExpectations(t)
}

func TestPublishTopicOverrideWithoutTrim(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("XAdd", mock.Anything, mock.MatchedBy(func(a *redis.XAddArgs) bool {
		return a.Stream == "other" && a.MaxLen == 0 && !a.Approx
	})).Return(nil).Once()

	p := NewWithClient(client, "variants", 0)
	_, err := p.Publish(context.Background(), "other", map[string]string{"a": "b"})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("XAdd", mock.Anything, mock.Anything).Return(errors.New("READONLY")).Once()
	client.On("Close").Return(nil).Once()

	p := NewWithClient(client, "", 0)
	_, err := p.Publish(context.Background(), "", record{})
	require.ErrorContains(t, err, "not configured")

	p = NewWithClient(client, "variants", 0)
	_, err = p.Publish(context.Background(), "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	_, err = p.Publish(context.Background(), "", record{})
	require.ErrorContains(t, err, "READONLY")

	require.NoError(t, p.Close())
	client.AssertExpectations(t)

	_, err = New(Config{})
	require.Error(t, err)
}
