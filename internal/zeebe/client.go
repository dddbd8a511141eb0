// Package zeebe registers job handlers as Zeebe job workers.
package zeebe

import (
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/config"
	"github.com/kjstillabower/external-task-worker/internal/observability"
)

const (
	cloudAuthorizationServerURL = "https://login.cloud.camunda.io/oauth/token"
	cloudDomain                 = "zeebe.camunda.io"
)

// NewClient connects to Camunda SaaS when cluster id, client id and client
// secret are all set, otherwise to the configured gateway.
func NewClient(cfg config.ZeebeConfig, logger *zap.Logger) (zbc.Client, error) {
	logger = observability.Named(logger, "zeebe")

	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Cloud() {
		provider, err := zbc.NewOAuthCredentialsProvider(&zbc.OAuthProviderConfig{
			ClientID:               cfg.ClientID,
			ClientSecret:           cfg.ClientSecret,
			Audience:               cloudHost(cfg.ClusterID, cfg.Region),
			AuthorizationServerURL: cloudAuthorizationServerURL,
		})
		if err != nil {
			return nil, fmt.Errorf("zeebe: oauth credentials: %w", err)
		}
		clientCfg.CredentialsProvider = provider
	}

	client, err := zbc.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("zeebe: create client: %w", err)
	}
	logger.Info("Zeebe client is configured to connect to gateway",
		zap.String("gatewayAddress", clientCfg.GatewayAddress),
		zap.Bool("cloud", cfg.Cloud()),
	)
	return client, nil
}

// clientConfig maps configuration onto the zbc client settings, without credentials.
func clientConfig(cfg config.ZeebeConfig) (*zbc.ClientConfig, error) {
	if cfg.Cloud() {
		return &zbc.ClientConfig{
			GatewayAddress:         cloudHost(cfg.ClusterID, cfg.Region) + ":443",
			UsePlaintextConnection: false,
			KeepAlive:              cfg.KeepAlive,
		}, nil
	}
	if cfg.GatewayAddress == "" {
		return nil, fmt.Errorf("zeebe: gateway address is required")
	}
	return &zbc.ClientConfig{
		GatewayAddress:         cfg.GatewayAddress,
		UsePlaintextConnection: cfg.UsePlainText,
		CaCertificatePath:      cfg.CACertificatePath,
		KeepAlive:              cfg.KeepAlive,
	}, nil
}

func cloudHost(clusterID, region string) string {
	if region == "" {
		region = "bru-2"
	}
	return fmt.Sprintf("%s.%s.%s", clusterID, region, cloudDomain)
}
