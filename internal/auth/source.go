package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Source is a read-only provider of the active token per environment.
// The gateway never writes back to it.
type Source interface {
	Fetch(ctx context.Context, environment string) (Token, error)
}

// =============================================================================
// FILE SOURCE
// =============================================================================

// FileSource reads tokens from a JSON file: either a single Token object or
// a map of environment name to Token.
type FileSource struct {
	Path string
}

// Fetch reads and decodes the token file.
func (s *FileSource) Fetch(_ context.Context, environment string) (Token, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return Token{}, fmt.Errorf("reading token file: %w", err)
	}

	var byEnv map[string]Token
	if err := json.Unmarshal(raw, &byEnv); err == nil {
		if tok, ok := byEnv[environment]; ok {
			return tok, nil
		}
		return Token{}, fmt.Errorf("token file has no entry for environment %q", environment)
	}

	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Token{}, fmt.Errorf("parsing token file: %w", err)
	}
	if tok.IsZero() {
		return Token{}, fmt.Errorf("token file %s contains no secret", s.Path)
	}
	return tok, nil
}

// =============================================================================
// ENV SOURCE
// =============================================================================

// Environment variables read by EnvSource.
const (
	EnvAccessToken    = "SOPHIA_ACCESS_TOKEN"
	EnvTokenID        = "SOPHIA_ACCESS_TOKEN_ID"
	EnvTokenExpiresAt = "SOPHIA_ACCESS_TOKEN_EXPIRES_AT"
)

// EnvSource reads the token from process environment variables. Expiry is
// optional; without it the token is treated as non-expiring.
type EnvSource struct{}

// Fetch assembles a token from the environment.
func (s *EnvSource) Fetch(_ context.Context, environment string) (Token, error) {
	secret := os.Getenv(EnvAccessToken)
	if secret == "" {
		return Token{}, fmt.Errorf("%s is not set", EnvAccessToken)
	}

	tok := Token{
		ID:          os.Getenv(EnvTokenID),
		Secret:      secret,
		Environment: environment,
	}
	if tok.ID == "" {
		tok.ID = "env"
	}
	if raw := os.Getenv(EnvTokenExpiresAt); raw != "" {
		exp, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Token{}, fmt.Errorf("parsing %s: %w", EnvTokenExpiresAt, err)
		}
		tok.ExpiresAt = exp
	}
	return tok, nil
}

// =============================================================================
// AWS SECRETS MANAGER SOURCE
// =============================================================================

// smClient is the Secrets Manager surface used, narrowed for tests.
type smClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads a JSON Token from AWS Secrets Manager. The
// secret id is suffixed with "/<environment>" so one base id serves every
// environment.
type SecretsManagerSource struct {
	client   smClient
	secretID string
}

// NewSecretsManagerSource builds a source using the default AWS credential
// chain.
func NewSecretsManagerSource(ctx context.Context, secretID string) (*SecretsManagerSource, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &SecretsManagerSource{
		client:   secretsmanager.NewFromConfig(awsCfg),
		secretID: secretID,
	}, nil
}

// Fetch retrieves and decodes the secret value.
func (s *SecretsManagerSource) Fetch(ctx context.Context, environment string) (Token, error) {
	id := s.secretID + "/" + environment

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &id,
	})
	if err != nil {
		return Token{}, fmt.Errorf("fetching secret %s: %w", id, err)
	}
	if out.SecretString == nil {
		return Token{}, fmt.Errorf("secret %s has no string value", id)
	}

	var tok Token
	if err := json.Unmarshal([]byte(*out.SecretString), &tok); err != nil {
		return Token{}, fmt.Errorf("parsing secret %s: %w", id, err)
	}
	if tok.IsZero() {
		return Token{}, fmt.Errorf("secret %s contains no token secret", id)
	}
	if tok.Environment == "" {
		tok.Environment = environment
	}
	return tok, nil
}
