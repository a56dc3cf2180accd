package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "menus", crawler.MenuNotification{MenuID: "m-1", Items: 3})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "", crawler.MenuNotification{MenuID: "m-2"})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "menus", msgs[0].Topic)
	assert.JSONEq(t, `{"restaurant_id":"","menu_id":"m-1","version":0,"items":3,"parser_source":"","source_url":""}`,
		string(msgs[0].Data))

	notes, err := pub.Notifications()
	require.NoError(t, err)
	assert.Equal(t, "m-2", notes[1].MenuID)

	msgs[0].Topic = "modified"
	assert.Equal(t, "menus", pub.Messages()[0].Topic, "Messages returns a copy")
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("broker down")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "menus", crawler.MenuNotification{})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "menus", crawler.MenuNotification{})
	require.NoError(t, err)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "menus", make(chan int))
	require.Error(t, err)
}
