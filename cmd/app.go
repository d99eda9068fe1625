package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"polychat/internal/config"
	"polychat/internal/credentials"
	"polychat/internal/logging"
	providerfactory "polychat/internal/provider/factory"
	"polychat/internal/router"
	"polychat/internal/store"
	"polychat/internal/store/bolt"
	"polychat/internal/store/dynamo"
	"polychat/internal/store/memory"
)

// loadConfig reads configuration, loads .env files and installs the
// default logger.
func loadConfig(path string, logOut io.Writer) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	loaded, err := config.LoadDotEnv(cfg.Credentials.DotEnv)
	if err != nil {
		return config.Config{}, err
	}

	if err := logging.Setup(cfg.Logging, logOut); err != nil {
		return config.Config{}, err
	}
	for _, file := range loaded {
		slog.Debug("loaded env file", "path", file)
	}
	return cfg, nil
}

// newRouter resolves vendor credentials into cfg and builds the adapter
// registry and routing table.
func newRouter(ctx context.Context, cfg *config.Config) (*router.Router, error) {
	src, err := credentialSource(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	if err := credentials.Apply(ctx, src, &cfg.Providers); err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	registry, err := providerfactory.NewRegistry(*cfg)
	if err != nil {
		return nil, err
	}
	return router.New(registry, cfg.Routing)
}

func credentialSource(ctx context.Context, cfg config.CredentialsConfig) (credentials.Source, error) {
	switch cfg.Source {
	case config.CredentialsSSM:
		awsCfg, err := loadAWSConfig(ctx, cfg.SSM.Region)
		if err != nil {
			return nil, err
		}
		src, err := credentials.NewSSM(ssm.NewFromConfig(awsCfg), cfg.SSM.Prefix)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return credentials.Env{}, nil
	}
}

// openStore opens the configured conversation store. The caller closes it.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StorageBolt:
		st, err := bolt.Open(cfg.Bolt.Path, nil)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StorageDynamoDB:
		awsCfg, err := loadAWSConfig(ctx, cfg.DynamoDB.Region)
		if err != nil {
			return nil, err
		}
		st, err := dynamo.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDB.Table, cfg.DynamoDB.OwnerIndex, nil)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return memory.New(nil), nil
	}
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region = strings.TrimSpace(region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// jwtSecret prefers the configured secret over NEXTAUTH_SECRET.
func jwtSecret(cfg config.AuthConfig) string {
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		return secret
	}
	return os.Getenv("NEXTAUTH_SECRET")
}
