package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Binary feed messages start with a one-byte tag.
const (
	tagVideoFrame = 'V'
	tagAudioChunk = 'A'
)

const (
	feedReadLimit    = 4 << 20
	feedReadTimeout  = 60 * time.Second
	feedWriteTimeout = 10 * time.Second
	feedPingInterval = 20 * time.Second
)

// feedMessage is a JSON control message from the browser.
type feedMessage struct {
	Type       string `json:"type"`
	Kind       string `json:"kind,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// ServeFeed pumps one browser websocket into dev until the connection drops or
// ctx ends. Writes stay on a single goroutine.
func ServeFeed(ctx context.Context, conn *websocket.Conn, dev *RemoteDevice, logger *slog.Logger) error {
	if err := dev.Attach(); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "feed already connected"),
			time.Now().Add(feedWriteTimeout))
		return err
	}
	defer dev.Detach()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(feedPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-dev.Outbox():
				_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteTimeout)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(feedReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	})

	// Unblock ReadMessage when ctx ends.
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	var readErr error
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				readErr = err
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			handleBinary(ctx, dev, data, logger)
		case websocket.TextMessage:
			handleControl(ctx, dev, data, logger)
		}
	}

	cancel()
	<-writerDone
	return readErr
}

func handleBinary(ctx context.Context, dev *RemoteDevice, data []byte, logger *slog.Logger) {
	if len(data) < 2 {
		return
	}
	switch data[0] {
	case tagVideoFrame:
		if err := dev.PushFrame(data[1:]); err != nil {
			logger.DebugContext(ctx, "dropping undecodable frame", "bytes", len(data)-1)
		}
	case tagAudioChunk:
		dev.PushAudio(data[1:])
	default:
		logger.DebugContext(ctx, "unknown binary feed tag", "tag", data[0])
	}
}

func handleControl(ctx context.Context, dev *RemoteDevice, data []byte, logger *slog.Logger) {
	var msg feedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.DebugContext(ctx, "invalid feed control message", "error", err)
		return
	}
	switch msg.Type {
	case "media_denied":
		logger.InfoContext(ctx, "browser denied media access", "kind", msg.Kind, "reason", msg.Reason)
		dev.Deny(msg.Kind, msg.Reason)
	case "audio_format":
		dev.SetAudioFormat(AudioFormat{
			Encoding:   msg.Encoding,
			MimeType:   msg.MimeType,
			SampleRate: msg.SampleRate,
			Channels:   msg.Channels,
		})
	default:
		logger.DebugContext(ctx, "ignoring feed control message", "type", msg.Type)
	}
}
