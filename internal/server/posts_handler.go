package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/models"
	"github.com/ifuryst/autopost/internal/service"
)

type uploadResponse struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

type scheduleRequest struct {
	ScheduledFor *time.Time `json:"scheduled_for"`
}

func (s *Server) handleListPosts(c *gin.Context) {
	posts, err := s.Posts.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		s.respondError(c, "Server error while fetching posts", err)
		return
	}
	list(c, posts)
}

func (s *Server) handleGetPost(c *gin.Context) {
	post, err := s.Posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, "Server error while fetching post", err)
		return
	}
	ok(c, http.StatusOK, "", post)
}

// handleCreatePost accepts JSON or a multipart form with an optional image
// file.
func (s *Server) handleCreatePost(c *gin.Context) {
	var input service.CreatePostInput

	if isMultipart(c) {
		input.EventName = c.PostForm("event_name")
		input.Caption = c.PostForm("caption")
		input.CreatedBy = c.PostForm("created_by")
		at, err := parseFormTime(c.PostForm("scheduled_for"))
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		input.ScheduledFor = at

		ref, err := s.saveFormImage(c)
		if err != nil {
			s.respondError(c, "Server error while uploading image", err)
			return
		}
		input.Image = ref
	} else if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	post, err := s.Posts.Create(c.Request.Context(), input)
	if err != nil {
		if input.Image != "" && isMultipart(c) {
			s.discardImage(c.Request.Context(), input.Image)
		}
		s.respondError(c, "Server error while creating post", err)
		return
	}
	ok(c, http.StatusCreated, "Post created successfully", post)
}

func (s *Server) handleUpdatePost(c *gin.Context) {
	var input service.UpdatePostInput

	if isMultipart(c) {
		if v, exists := c.GetPostForm("event_name"); exists {
			input.EventName = &v
		}
		if v, exists := c.GetPostForm("caption"); exists {
			input.Caption = &v
		}
		if v, exists := c.GetPostForm("status"); exists && v != "" {
			status := models.PostStatus(v)
			input.Status = &status
		}
		at, err := parseFormTime(c.PostForm("scheduled_for"))
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		input.ScheduledFor = at

		ref, err := s.saveFormImage(c)
		if err != nil {
			s.respondError(c, "Server error while uploading image", err)
			return
		}
		if ref != "" {
			input.Image = &ref
		}
	} else if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	post, err := s.Posts.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		s.respondError(c, "Server error while updating post", err)
		return
	}
	ok(c, http.StatusOK, "Post updated successfully", post)
}

func (s *Server) handleDeletePost(c *gin.Context) {
	if err := s.Posts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, "Server error while deleting post", err)
		return
	}
	ok(c, http.StatusOK, "Post deleted successfully", nil)
}

// handleUpload stores an image on its own so a later create or update can
// reference it.
func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "Please upload an image file")
		return
	}

	f, err := file.Open()
	if err != nil {
		s.respondError(c, "Server error while uploading image", err)
		return
	}
	defer f.Close()

	ref, err := s.Uploader.Upload(c.Request.Context(), f)
	if err != nil {
		s.respondError(c, "Server error while uploading image", err)
		return
	}

	ok(c, http.StatusOK, "Image uploaded successfully", uploadResponse{
		Filename: ref,
		URL:      s.Media.URL(ref),
		Size:     file.Size,
	})
}

func (s *Server) handleSchedulePost(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.ScheduledFor == nil {
		badRequest(c, "Please provide a scheduled date")
		return
	}

	post, err := s.Posts.Schedule(c.Request.Context(), c.Param("id"), *req.ScheduledFor)
	if err != nil {
		s.respondError(c, "Server error while scheduling post", err)
		return
	}
	ok(c, http.StatusOK, "Post scheduled successfully", post)
}

// handlePublishNow publishes immediately. A publisher failure answers 502
// with the failed post so the caller can see the stored reason.
func (s *Server) handlePublishNow(c *gin.Context) {
	post, err := s.Scheduler.PublishNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		if statusFor(err) == http.StatusBadGateway {
			c.JSON(http.StatusBadGateway, Response{
				Success: false,
				Message: "Failed to publish post",
				Data:    post,
				Error:   err.Error(),
			})
			return
		}
		s.respondError(c, "Server error while publishing post", err)
		return
	}
	ok(c, http.StatusOK, "Post published successfully", post)
}

func (s *Server) handleListScheduled(c *gin.Context) {
	posts, err := s.Posts.ListScheduled(c.Request.Context())
	if err != nil {
		s.respondError(c, "Server error while fetching scheduled posts", err)
		return
	}
	list(c, posts)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.Posts.Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, "Server error while fetching stats", err)
		return
	}
	ok(c, http.StatusOK, "", stats)
}

func (s *Server) saveFormImage(c *gin.Context) (string, error) {
	file, err := c.FormFile("image")
	if err != nil {
		// No image in the form.
		return "", nil
	}
	f, err := file.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.Uploader.Upload(c.Request.Context(), f)
}

func (s *Server) discardImage(ctx context.Context, ref string) {
	if err := s.Media.Delete(context.WithoutCancel(ctx), ref); err != nil {
		s.Logger.Warn("Failed to remove unused image", zap.String("image", ref), zap.Error(err))
	}
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

func parseFormTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("scheduled_for must be an RFC 3339 timestamp")
	}
	return &t, nil
}
