// Package api exposes the broker's account, region and server operations over HTTP.
package api

import (
	"context"

	"go.uber.org/zap"

	"fleetbroker/internal/orchestrator"
	"fleetbroker/pkg/openapi"
	"fleetbroker/pkg/servers"
	"fleetbroker/pkg/tenants"
)

type Accounts interface {
	Onboard(ctx context.Context, userID, title, roleARN string) (tenants.Account, error)
	Edit(ctx context.Context, userID, accountID, title, roleARN string) (tenants.Account, error)
	Offboard(ctx context.Context, userID, accountID string) error
	Get(ctx context.Context, userID, accountID string) (tenants.Account, error)
	ListForUser(ctx context.Context, userID string) ([]tenants.Account, error)
}

type Servers interface {
	CreateServer(ctx context.Context, req orchestrator.CreateRequest) (servers.Server, error)
	GetServer(ctx context.Context, accountID, region, id string) (servers.Server, error)
	GetServerStatus(ctx context.Context, accountID, region, id string) (orchestrator.Status, error)
	DeleteServer(ctx context.Context, accountID, region, id string) error
}

type Fleet interface {
	ListFleet(ctx context.Context, accountID string, regions []string) ([]servers.Server, error)
	ListRegions(ctx context.Context, accountID string) ([]string, error)
}

type App struct {
	Accounts Accounts
	Servers  Servers
	Fleet    Fleet
	Store    tenants.Store
	Log      *zap.SugaredLogger
	Version  string

	docs *openapi.Registry
}
