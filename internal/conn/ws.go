package conn

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/roomlink/internal/protocol"
)

const wsReadLimit = 4 << 20

// WSDialer dials the push server over websocket and exchanges JSON frames.
type WSDialer struct {
	URL string
}

func (d WSDialer) Dial(ctx context.Context, header http.Header) (Transport, error) {
	c, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      header,
	})
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(wsReadLimit)
	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	var f protocol.Frame
	err := wsjson.Read(ctx, t.conn, &f)
	return f, err
}

func (t *wsTransport) WriteFrame(ctx context.Context, f protocol.Frame) error {
	return wsjson.Write(ctx, t.conn, f)
}

func (t *wsTransport) Ping(ctx context.Context) error { return t.conn.Ping(ctx) }

func (t *wsTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}
