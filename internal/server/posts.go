package server

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frith/blog/internal/posts"
	"github.com/frith/blog/internal/storage"
)

type startPostRequestPayload struct {
	ReplyTo string `json:"reply_to"`
}

type startPostResponsePayload struct {
	PostID string `json:"post_id"`
}

type prepareImageResponsePayload struct {
	UploadURL string `json:"upload_url"`
	ImageURL  string `json:"image_url"`
}

type finishPostRequestPayload struct {
	PostID string `json:"post_id"`
	Text   string `json:"text"`
}

func (h *httpHandler) handleStartPost(c *gin.Context) {
	var request startPostRequestPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	post, err := h.posts.StartPost(c.Request.Context(), c.GetString(usernameContextKey), request.ReplyTo)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, startPostResponsePayload{PostID: post.ID})
}

func (h *httpHandler) handlePrepareImage(c *gin.Context) {
	username := c.GetString(usernameContextKey)
	postID, name := c.Param("id"), c.Param("name")
	if err := h.posts.PrepareAttachment(c.Request.Context(), postID, username, name); err != nil {
		h.writeServiceError(c, err)
		return
	}
	ticket, _, err := h.tickets.Issue(uploadTicket(postID, name, username))
	if err != nil {
		h.logger.Error("upload ticket failed", zap.String("post_id", postID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ticket_failed"})
		return
	}
	query := url.Values{"ticket": []string{ticket}}
	c.JSON(http.StatusCreated, prepareImageResponsePayload{
		UploadURL: imageURL("/api/post/create/image", postID, name) + "?" + query.Encode(),
		ImageURL:  imageURL("/api/post/image", postID, string(storage.SizeRaw), name),
	})
}

func (h *httpHandler) handleFinishPost(c *gin.Context) {
	var request finishPostRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.PostID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	post, err := h.posts.Finish(c.Request.Context(), request.PostID, c.GetString(usernameContextKey), request.Text)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	if err := h.posts.Delete(c.Request.Context(), c.Param("id"), c.GetString(usernameContextKey)); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePostMeta(c *gin.Context) {
	post, err := h.posts.Meta(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *httpHandler) handlePostText(c *gin.Context) {
	text, err := h.posts.Text(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(text))
}

func (h *httpHandler) handleLatest(c *gin.Context) {
	amount, after := posts.DefaultLatestAmount, 0
	if raw := c.Param("amount"); raw != "" {
		parsedAmount, amountErr := strconv.Atoi(raw)
		parsedAfter, afterErr := strconv.Atoi(c.Param("after"))
		if amountErr != nil || afterErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		amount, after = parsedAmount, parsedAfter
	}
	feed, err := h.posts.Latest(c.Request.Context(), amount, after)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

func (h *httpHandler) handleThread(c *gin.Context) {
	thread, err := h.posts.Thread(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (h *httpHandler) handleImage(c *gin.Context) {
	path, err := h.posts.ImagePath(c.Request.Context(), c.Param("id"), c.Param("size"), c.Param("name"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.File(path)
}

func imageURL(prefix string, segments ...string) string {
	result := prefix
	for _, segment := range segments {
		result += "/" + url.PathEscape(segment)
	}
	return result
}
