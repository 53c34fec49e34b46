// Package llmfactory creates the model backend described by the configuration.
package llmfactory
