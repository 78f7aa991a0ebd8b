package avatar

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/avatar-gateway/internal/speech"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	server := httptest.NewServer(hub.HandleViewerWS())
	t.Cleanup(server.Close)
	return hub, server
}

// dialViewer connects a fake viewer and consumes the greeting
func dialViewer(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	greeting := readMessage(t, conn)
	require.Equal(t, EventConnected, greeting.Event)
	require.NotEmpty(t, greeting.ViewerID)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func wavFixture() []byte {
	samples := make([]int16, 1600) // 100ms at 16kHz
	for i := range samples {
		if (i/8)%2 == 0 {
			samples[i] = 6000
		} else {
			samples[i] = -6000
		}
	}

	// 44-byte canonical header, mono 16-bit PCM
	data := make([]byte, 44+len(samples)*2)
	copy(data[0:], "RIFF")
	binary.LittleEndian.PutUint32(data[4:], uint32(36+len(samples)*2))
	copy(data[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(data[16:], 16)
	binary.LittleEndian.PutUint16(data[20:], 1)
	binary.LittleEndian.PutUint16(data[22:], 1)
	binary.LittleEndian.PutUint32(data[24:], 16000)
	binary.LittleEndian.PutUint32(data[28:], 32000)
	binary.LittleEndian.PutUint16(data[32:], 2)
	binary.LittleEndian.PutUint16(data[34:], 16)
	copy(data[36:], "data")
	binary.LittleEndian.PutUint32(data[40:], uint32(len(samples)*2))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[44+i*2:], uint16(s))
	}
	return data
}

func renderAsync(ctx context.Context, r *Renderer, data []byte, expr speech.Expression) <-chan error {
	result := make(chan error, 1)
	go func() { result <- r.Render(ctx, data, expr) }()
	return result
}

func awaitRender(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Render did not return")
		return nil
	}
}

func TestRenderer_NoViewer(t *testing.T) {
	hub, _ := newTestHub(t)
	err := NewRenderer(hub, RendererConfig{}).Render(context.Background(), wavFixture(), speech.ExpressionHappy)
	assert.ErrorIs(t, err, ErrNoViewer)
}

func TestRenderer_WaitsForSpeakDone(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dialViewer(t, server)
	renderer := NewRenderer(hub, RendererConfig{})

	data := wavFixture()
	result := renderAsync(context.Background(), renderer, data, speech.ExpressionHappy)

	msg := readMessage(t, conn)
	require.Equal(t, EventSpeak, msg.Event)
	require.NotNil(t, msg.Speak)
	assert.Equal(t, "happy", msg.Speak.Expression)
	assert.Equal(t, int64(100), msg.Speak.DurationMs)
	require.NotNil(t, msg.Speak.Envelope)
	assert.Len(t, msg.Speak.Envelope.Levels, 5)

	decoded, err := base64.StdEncoding.DecodeString(msg.Speak.Audio)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	select {
	case <-result:
		t.Fatal("Render returned before the viewer acknowledged")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, conn.WriteJSON(Message{Event: EventSpeakDone, ID: msg.ID}))
	assert.NoError(t, awaitRender(t, result))
}

func TestRenderer_NonWAVHasNoEnvelope(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dialViewer(t, server)

	result := renderAsync(context.Background(), NewRenderer(hub, RendererConfig{}), []byte("OggS..."), speech.ExpressionNeutral)

	msg := readMessage(t, conn)
	assert.Nil(t, msg.Speak.Envelope)
	assert.Zero(t, msg.Speak.DurationMs)

	require.NoError(t, conn.WriteJSON(Message{Event: EventSpeakDone, ID: msg.ID}))
	assert.NoError(t, awaitRender(t, result))
}

func TestRenderer_ViewerReportsError(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dialViewer(t, server)

	result := renderAsync(context.Background(), NewRenderer(hub, RendererConfig{}), wavFixture(), speech.ExpressionSad)
	msg := readMessage(t, conn)
	require.NoError(t, conn.WriteJSON(Message{Event: EventSpeakDone, ID: msg.ID, Error: "audio decode failed"}))

	err := awaitRender(t, result)
	var viewerErr *ViewerError
	require.True(t, errors.As(err, &viewerErr))
	assert.Equal(t, "audio decode failed", viewerErr.Message)
}

func TestRenderer_ViewerDisconnects(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dialViewer(t, server)

	result := renderAsync(context.Background(), NewRenderer(hub, RendererConfig{}), wavFixture(), speech.ExpressionAngry)
	readMessage(t, conn)
	require.NoError(t, conn.Close())

	assert.ErrorIs(t, awaitRender(t, result), ErrViewerGone)
	assert.Eventually(t, func() bool { return hub.Connected() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRenderer_ContextCancelled(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dialViewer(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	result := renderAsync(ctx, NewRenderer(hub, RendererConfig{}), wavFixture(), speech.ExpressionRelaxed)
	readMessage(t, conn)
	cancel()

	assert.ErrorIs(t, awaitRender(t, result), context.Canceled)
}

func TestRenderer_AckTimeout(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dialViewer(t, server)

	renderer := NewRenderer(hub, RendererConfig{AckGrace: 20 * time.Millisecond})
	result := renderAsync(context.Background(), renderer, wavFixture(), speech.ExpressionNeutral)
	readMessage(t, conn)

	err := awaitRender(t, result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish playback")
}

func TestRenderer_LatestViewerSpeaks(t *testing.T) {
	hub, server := newTestHub(t)
	first := dialViewer(t, server)
	second := dialViewer(t, server)
	assert.Equal(t, 2, hub.Connected())

	result := renderAsync(context.Background(), NewRenderer(hub, RendererConfig{}), wavFixture(), speech.ExpressionNeutral)
	msg := readMessage(t, second)
	require.Equal(t, EventSpeak, msg.Event)
	require.NoError(t, second.WriteJSON(Message{Event: EventSpeakDone, ID: msg.ID}))
	assert.NoError(t, awaitRender(t, result))

	// The first viewer saw nothing
	require.NoError(t, first.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	var stray Message
	assert.Error(t, first.ReadJSON(&stray))
}

func TestHub_BroadcastsLifecycleEvents(t *testing.T) {
	hub, server := newTestHub(t)
	a := dialViewer(t, server)
	b := dialViewer(t, server)

	hub.PublishUtteranceStart("u-1", "Hello there", "happy")
	hub.PublishUtteranceComplete("u-1", "Hello there", "happy")

	for _, conn := range []*websocket.Conn{a, b} {
		start := readMessage(t, conn)
		assert.Equal(t, EventUtteranceStart, start.Event)
		require.NotNil(t, start.Utterance)
		assert.Equal(t, "Hello there", start.Utterance.Text)
		assert.Equal(t, "u-1", start.Utterance.UtteranceID)

		complete := readMessage(t, conn)
		assert.Equal(t, EventUtteranceComplete, complete.Event)
	}
}

func TestHub_CloseDisconnectsViewers(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dialViewer(t, server)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Eventually(t, func() bool { return hub.Connected() == 0 }, time.Second, 10*time.Millisecond)
}
