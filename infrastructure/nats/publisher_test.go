package natspub

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/spooky-finn/go-marketstream-sync/domain"
	"github.com/spooky-finn/go-marketstream-sync/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectFor(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		event  stream.Event
		want   string
	}{
		{"lifecycle", "marketstream", stream.ConnectedEvent(), "marketstream.connected"},
		{"book", "marketstream", stream.BookUpdateEvent("ob1", true), "marketstream.book_update.ob1"},
		{"no prefix", "", stream.ResyncRequiredEvent("ob1"), "resync_required.ob1"},
		{"dotted id", "ms", stream.PriceUpdateEvent("a.b*c", domain.Resolution_1m), "ms.price_update.a_b_c"},
		{"user", "ms", stream.UserUpdateEvent("snapshot", "acc"), "ms.user_update"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SubjectFor(tc.prefix, tc.event))
		})
	}
}

func TestBuildMessage(t *testing.T) {
	msg, err := BuildMessage("ms", 42, stream.BookUpdateEvent("ob1", false))
	require.NoError(t, err)

	assert.Equal(t, "ms.book_update.ob1", msg.Subject)
	assert.Equal(t, "book_update", msg.Header.Get(Header_Kind))
	assert.Equal(t, "42", msg.Header.Get(Header_Sequence))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "book_update", payload["kind"])
	assert.Equal(t, "ob1", payload["orderbook_id"])
}

func TestBuildMessage_ErrorEventCarriesText(t *testing.T) {
	msg, err := BuildMessage("ms", 1, stream.ErrorEvent(errors.New("boom")))
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "boom", payload["error"])
}
