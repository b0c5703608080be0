package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"vod-validator/dto"
	"vod-validator/pkg/token"
	"vod-validator/repository"
	"vod-validator/service"
)

type ServiceDependencies struct {
	Engine     *service.JobEngine
	Playlist   *service.PlaylistService
	Proxy      *service.ProxyService
	Repo       repository.Repository
	Production bool
}

// RevalidateHandler consumes single-video revalidation requests enqueued
// by the catalog backend.
func RevalidateHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var req dto.RevalidateMessage
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal revalidate message")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", req.JobId).
		Str("video_id", req.VideoId.String()).
		Msg("received revalidate message")

	_, err := deps.Engine.RevalidateVideo(ctx, req.JobId, req.VideoId)
	return err
}

func RegisterRoutes(r *gin.Engine, deps ServiceDependencies) {
	validate := r.Group("/validate")
	{
		validate.POST("/start", startValidation(deps))
		validate.GET("/jobs", listJobs(deps))
		validate.GET("/jobs/:id", getJob(deps))
		validate.POST("/jobs/:id/pause", controlJob(deps, deps.Engine.Pause))
		validate.POST("/jobs/:id/resume", controlJob(deps, deps.Engine.Resume))
		validate.POST("/jobs/:id/stop", controlJob(deps, deps.Engine.Stop))
		validate.DELETE("/jobs/:id", deleteJob(deps))
		validate.POST("/jobs/:id/revalidate/:videoId", revalidateVideo(deps))
	}

	videos := r.Group("/videos")
	{
		videos.GET("/:id/playlist/:quality", servePlaylist(deps))
		videos.GET("/:id/segments/:quality/:n", serveSegment(deps))
		videos.POST("/:id/sign", signSegment(deps))
	}
}

func startValidation(deps ServiceDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.StartValidationRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		jobId, err := deps.Engine.Start(c.Request.Context(), req.Mirror)
		if errors.Is(err, service.ErrJobAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "a validation job is already running"})
			return
		}
		if err != nil {
			fail(c, deps, err)
			return
		}
		c.JSON(http.StatusAccepted, dto.StartValidationResponse{JobId: jobId})
	}
}

func listJobs(deps ServiceDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := deps.Engine.List(c.Request.Context())
		if err != nil {
			fail(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

func getJob(deps ServiceDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := deps.Engine.Snapshot(c.Request.Context(), c.Param("id"))
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		if err != nil {
			fail(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func controlJob(deps ServiceDependencies, action func(context.Context, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := action(c.Request.Context(), c.Param("id"))
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		if err != nil {
			fail(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func deleteJob(deps ServiceDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := deps.Engine.Delete(c.Request.Context(), c.Param("id"))
		if errors.Is(err, service.ErrJobAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "stop the job before deleting it"})
			return
		}
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		if err != nil {
			fail(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

func revalidateVideo(deps ServiceDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		videoId, err := uuid.Parse(c.Param("videoId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
			return
		}

		result, err := deps.Engine.RevalidateVideo(c.Request.Context(), c.Param("id"), videoId)
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job or video not found"})
			return
		}
		if err != nil {
			fail(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func servePlaylist(deps ServiceDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		videoId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
			return
		}
		quality := strings.TrimSuffix(c.Param("quality"), ".m3u8")

		video, err := deps.Repo.FindVideoById(c.Request.Context(), videoId)
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
			return
		}
		if err != nil {
			fail(c, deps, err)
			return
		}

		manifest, err := deps.Playlist.BuildPlaylist(video, quality)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "playlist unavailable"})
			return
		}
		c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(manifest))
	}
}

func serveSegment(deps ServiceDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		videoId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
			return
		}
		n, err := strconv.Atoi(c.Param("n"))
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid segment number"})
			return
		}

		stream, contentType, err := deps.Proxy.ServeSegment(
			c.Request.Context(), videoId, c.Param("quality"), n, c.Query("token"))
		switch {
		case errors.Is(err, token.ErrInvalid) || errors.Is(err, token.ErrMismatch):
			// Decoded-claim diagnostics stay out of production responses.
			if deps.Production {
				c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			} else {
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			}
			return
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "segment not found"})
			return
		case errors.Is(err, service.ErrUpstreamUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
			return
		case err != nil:
			fail(c, deps, err)
			return
		}
		defer stream.Close()

		if contentType == "" {
			contentType = "video/mp2t"
		}
		c.Header("Content-Type", contentType)
		c.Status(http.StatusOK)
		_, _ = io.Copy(c.Writer, stream)
	}
}

func signSegment(deps ServiceDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		videoId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
			return
		}

		var req dto.SignSegmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quality and segmentNumber are required"})
			return
		}

		signed, ttl, err := deps.Proxy.Sign(videoId, req.Quality, req.SegmentNumber)
		if err != nil {
			fail(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, dto.SignSegmentResponse{Token: signed, ExpiresIn: int(ttl.Seconds())})
	}
}

func fail(c *gin.Context, deps ServiceDependencies, err error) {
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	if deps.Production {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
