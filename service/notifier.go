package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"vod-validator/constant"
	"vod-validator/dto"
	"vod-validator/entities"
	"vod-validator/pkg/rabbitmq"
	"vod-validator/repository"
)

const notificationDedupWindow = 24 * time.Hour

// Notifier writes admin notifications and fans realtime events out to live
// listeners. Every path swallows its own failures: a broken notification
// channel must never fail a validation run.
type Notifier struct {
	repo repository.Repository
	pub  rabbitmq.Publisher
}

func NewNotifier(repo repository.Repository, pub rabbitmq.Publisher) *Notifier {
	return &Notifier{repo: repo, pub: pub}
}

// NotifyBrokenVideo records an admin notification for a video that failed
// validation. Skipped when an identical notification for the same lecture
// was created within the last 24h.
func (n *Notifier) NotifyBrokenVideo(ctx context.Context, video *entities.Video, errMsg string) {
	title := fmt.Sprintf("Video broken: %s", video.Title)
	lectureId := video.LectureId

	exists, err := n.repo.HasRecentNotification(ctx, title, &lectureId, time.Now().Add(-notificationDedupWindow))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("notification dedup check failed")
		return
	}
	if exists {
		zerolog.Ctx(ctx).Debug().Str("video", video.ID.String()).Msg("skipping duplicate broken-video notification")
		return
	}

	videoId := video.ID
	err = n.repo.CreateNotification(ctx, &entities.Notification{
		Title:     title,
		LectureId: &lectureId,
		VideoId:   &videoId,
		AdminOnly: true,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create broken-video notification")
		return
	}

	lectureTitle := ""
	if lecture, err := n.repo.FindLectureById(ctx, lectureId); err == nil {
		lectureTitle = lecture.Title
	}

	n.pub.PublishRealtime(ctx, dto.RealtimeEvent{
		Type:    "video.broken",
		VideoId: video.ID.String(),
		Title:   video.Title,
		Payload: map[string]any{"error": errMsg, "lecture": lectureTitle},
	})
}

// NotifyStatusChange publishes a realtime event when a video flips between
// working and broken.
func (n *Notifier) NotifyStatusChange(ctx context.Context, video *entities.Video, from, to constant.VideoStatus) {
	if from == to {
		return
	}
	n.pub.PublishRealtime(ctx, dto.RealtimeEvent{
		Type:    "video.status",
		VideoId: video.ID.String(),
		Title:   video.Title,
		Payload: map[string]any{"from": from.String(), "to": to.String()},
	})
}

// NotifyJobFinished publishes the terminal job event.
func (n *Notifier) NotifyJobFinished(ctx context.Context, jobId string, processed, failed int) {
	n.pub.PublishRealtime(ctx, dto.RealtimeEvent{
		Type:  "job.finished",
		JobId: jobId,
		Payload: map[string]any{
			"processed": processed,
			"failed":    failed,
		},
	})
}
