package provision

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/confidentialledger/armconfidentialledger"
)

// Manager creates and reads ledger resources in the control plane.
type Manager interface {
	// Create starts the create (or update) operation and waits for it.
	Create(ctx context.Context, resourceGroup, name string, l armconfidentialledger.ConfidentialLedger) (*armconfidentialledger.ConfidentialLedger, error)
	Get(ctx context.Context, resourceGroup, name string) (*armconfidentialledger.ConfidentialLedger, error)
}

// ARMManager is the Azure Resource Manager implementation of Manager.
type ARMManager struct {
	client *armconfidentialledger.LedgerClient
}

var _ Manager = (*ARMManager)(nil)

// NewARMManager returns a Manager for subscriptionID.
func NewARMManager(subscriptionID string, cred azcore.TokenCredential) (*ARMManager, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription id is required")
	}
	client, err := armconfidentialledger.NewLedgerClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create ledger management client: %w", err)
	}
	return &ARMManager{client: client}, nil
}

// Create implements Manager.
func (m *ARMManager) Create(ctx context.Context, resourceGroup, name string, l armconfidentialledger.ConfidentialLedger) (*armconfidentialledger.ConfidentialLedger, error) {
	poller, err := m.client.BeginCreate(ctx, resourceGroup, name, l, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create ledger %s: %w", name, err)
	}
	res, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create ledger %s: %w", name, err)
	}
	return &res.ConfidentialLedger, nil
}

// Get implements Manager.
func (m *ARMManager) Get(ctx context.Context, resourceGroup, name string) (*armconfidentialledger.ConfidentialLedger, error) {
	res, err := m.client.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return nil, fmt.Errorf("get ledger %s: %w", name, err)
	}
	return &res.ConfidentialLedger, nil
}
