package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
)

func TestHTTPSenderSnapshotStaysValidText(t *testing.T) {
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("a", responseSnapshotSize-1) + "é" + "tail\x00"))
	}))
	defer receiver.Close()

	res := NewHTTPSender(time.Second).Send(context.Background(), SendRequest{
		URL:        receiver.URL,
		Secret:     "whsec",
		Event:      enums.EventCurrencyCredited,
		DeliveryID: uuid.New(),
		Body:       []byte(`{"event":"currency.credited"}`),
		Timestamp:  time.Unix(1_767_600_000, 0),
	})

	require.NoError(t, res.Err)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.True(t, utf8.ValidString(res.Body))
	assert.LessOrEqual(t, len(res.Body), responseSnapshotSize)
	assert.Equal(t, strings.Repeat("a", responseSnapshotSize-1), res.Body)
}

func TestHTTPSenderSnapshotDropsNUL(t *testing.T) {
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get(HeaderSignature))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("bad\x00gateway"))
	}))
	defer receiver.Close()

	res := NewHTTPSender(time.Second).Send(context.Background(), SendRequest{
		URL:        receiver.URL,
		Secret:     "whsec",
		Event:      enums.EventOrderCreated,
		DeliveryID: uuid.New(),
		Body:       []byte(`{}`),
		Timestamp:  time.Unix(1_767_600_000, 0),
	})

	assert.Equal(t, "badgateway", res.Body)
	assert.False(t, res.OK())
}
