package main

import (
	"context"
	"fmt"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
	"github.com/shieldcustody/withdrawal-backend/internal/service/withdrawal"
)

// nodeSubmitter is the deployment seam for the blockchain node's async
// operation API. The open-source build ships without a node client;
// submissions fail cleanly until one is wired in, while every read-side
// surface (probes, reports, audit) remains fully functional.
type nodeSubmitter struct{}

func (nodeSubmitter) Submit(context.Context, string, string, values.Amount, string) (string, error) {
	return "", fmt.Errorf("no node client configured")
}

func (nodeSubmitter) OperationStatus(context.Context, string) (*withdrawal.OperationStatus, error) {
	return nil, fmt.Errorf("no node client configured")
}
