package server

import (
	"context"
	"encoding/json"

	"github.com/CCIP-App/ccip-server/internal/repository"
	"github.com/CCIP-App/ccip-server/internal/service"
)

type Service interface {
	Evaluate(ctx context.Context, token string, privileged bool) (*service.AttendeeStatus, error)
	UseRule(ctx context.Context, token, ruleID string, privileged bool) (*service.AttendeeStatus, error)
	GetProfile(ctx context.Context, token string) (service.Profile, error)
	ListAnnouncements(ctx context.Context, token string) ([]repository.Announcement, error)
	CreateAnnouncement(ctx context.Context, request service.CreateAnnouncementRequest) (repository.Announcement, error)
	ReplaceRuleset(ctx context.Context, config json.RawMessage) error
}

var _ Service = (*service.Service)(nil)
