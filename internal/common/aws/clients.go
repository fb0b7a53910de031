// internal/common/aws/clients.go
package aws

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Clients holds the AWS service clients used for applicant messaging.
type Clients struct {
	SNS *sns.Client
	SES *ses.Client
}

// NewClients loads the default credential chain for region and builds the SNS
// and SES clients from it.
func NewClients(ctx context.Context, region string) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Clients{
		SNS: sns.NewFromConfig(cfg),
		SES: ses.NewFromConfig(cfg),
	}, nil
}
