package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/frith/blog/internal/auth"
)

const (
	uploadMessageEnd    = "end"
	uploadMessageCancel = "cancel"
	closeWriteTimeout   = time.Second
)

type uploadControlMessage struct {
	Type string `json:"type"`
}

func uploadTicket(postID, name, author string) auth.UploadTicket {
	return auth.UploadTicket{PostID: postID, FileName: name, Author: author}
}

func (h *httpHandler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
				return true
			}
			return origin == h.allowedOrigin
		},
	}
}

// handleImageSocket streams binary frames into the raw image file. A text
// frame {"type":"end"} registers the upload on its post; cancel, a closed
// socket or a timeout discard the partial file.
func (h *httpHandler) handleImageSocket(c *gin.Context) {
	ticket, err := h.tickets.Validate(c.Query("ticket"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if ticket.PostID != c.Param("id") || ticket.FileName != c.Param("name") {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	writer, err := h.posts.OpenAttachment(ctx, ticket.PostID, ticket.Author, ticket.FileName)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		writer.Close()
		h.discardUpload(ctx, ticket)
		h.logger.Warn("upload socket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	registered, reason := h.receiveUpload(ctx, conn, writer, ticket)
	if !registered {
		h.discardUpload(ctx, ticket)
		closeSocket(conn, websocket.CloseNormalClosure, reason)
		return
	}
	closeSocket(conn, websocket.CloseNormalClosure, "registered")
}

func (h *httpHandler) receiveUpload(ctx context.Context, conn *websocket.Conn, writer io.WriteCloser, ticket auth.UploadTicket) (bool, string) {
	started := time.Now()
	socketDeadline := started.Add(h.socketTTL)
	fields := []zap.Field{zap.String("post_id", ticket.PostID), zap.String("file", ticket.FileName)}

	for {
		deadline := time.Now().Add(h.messageTTL)
		if deadline.After(socketDeadline) {
			deadline = socketDeadline
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			writer.Close()
			return false, "timeout"
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			writer.Close()
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				h.logger.Info("upload timed out", fields...)
				return false, "timeout"
			}
			return false, "closed"
		}

		switch messageType {
		case websocket.BinaryMessage:
			if _, err := writer.Write(data); err != nil {
				writer.Close()
				h.logger.Error("upload write failed", append(fields, zap.Error(err))...)
				return false, "write_failed"
			}
		case websocket.TextMessage:
			var message uploadControlMessage
			if err := json.Unmarshal(data, &message); err != nil {
				writer.Close()
				return false, "invalid_message"
			}
			switch message.Type {
			case uploadMessageEnd:
				if err := writer.Close(); err != nil {
					h.logger.Error("upload close failed", append(fields, zap.Error(err))...)
					return false, "write_failed"
				}
				if err := h.posts.RegisterAttachment(ctx, ticket.PostID, ticket.Author, ticket.FileName); err != nil {
					h.logger.Warn("upload not registered", append(fields, zap.Error(err))...)
					return false, "not_registered"
				}
				return true, ""
			case uploadMessageCancel:
				writer.Close()
				return false, "cancelled"
			default:
				writer.Close()
				return false, "invalid_message"
			}
		}
	}
}

func (h *httpHandler) discardUpload(ctx context.Context, ticket auth.UploadTicket) {
	if err := h.posts.DiscardAttachment(ctx, ticket.PostID, ticket.FileName); err != nil {
		h.logger.Warn("partial upload not removed",
			zap.String("post_id", ticket.PostID),
			zap.String("file", ticket.FileName),
			zap.Error(err))
	}
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeWriteTimeout),
	)
}

