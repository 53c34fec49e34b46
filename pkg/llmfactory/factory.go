package llmfactory

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llms/openai"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "llmfactory")

// NewLLM is a wrapper for CreateLLM to allow for overriding the default implementation.
var NewLLM = CreateLLM

// CreateLLM returns the model for the configured provider.
// The httpClient is optional.
func CreateLLM(cfg *config.Config, httpClient *http.Client) (llms.Model, error) {
	provType := strings.ToUpper(cfg.Provider)
	switch provType {
	case "", "OPENAI", "OPEN_AI":
		return newOpenAI(cfg, httpClient)
	}
	return nil, errors.Errorf("unsupported provider type: %s", provType)
}

func newOpenAI(cfg *config.Config, httpClient *http.Client) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, openai.WithOrganization(cfg.Organization))
	}
	if httpClient != nil {
		opts = append(opts, openai.WithHTTPClient(httpClient))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, errors.WithMessage(err, "unable to create model")
	}

	logger.KV(xlog.DEBUG,
		"status", "created_llm",
		"provider", cfg.Provider,
		"model", model.GetName(),
		"base_url", cfg.BaseURL,
	)
	return model, nil
}
