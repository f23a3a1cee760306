package health

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaChecker implements health checking for the Solana RPC provider.
type SolanaChecker struct {
	client *rpc.Client
}

// NewSolanaChecker creates a new Solana RPC health checker.
func NewSolanaChecker(client *rpc.Client) *SolanaChecker {
	return &SolanaChecker{
		client: client,
	}
}

// HealthCheck queries the RPC node's health endpoint.
func (s *SolanaChecker) HealthCheck(ctx context.Context) error {
	out, err := s.client.GetHealth(ctx)
	if err != nil {
		return err
	}
	if out != rpc.HealthOk {
		return fmt.Errorf("solana rpc unhealthy: %s", out)
	}
	return nil
}
