// Package chatmodel carries the identifiers of the interactive session and
// of the query being answered through context.Context.
package chatmodel

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/google/uuid"
)

// ChatContext is the context of one query within an interactive session.
type ChatContext interface {
	// GetSessionID returns the ID of the interactive session
	GetSessionID() string
	// GetChatID returns the ID of the query
	GetChatID() string
	// GetMetadata retrieves metadata by key
	GetMetadata(key string) (value any, ok bool)
	// SetMetadata sets metadata by key
	SetMetadata(key string, value any)
}

type chatContext struct {
	sessionID string
	chatID    string
	metadata  sync.Map
}

func (c *chatContext) GetSessionID() string {
	return c.sessionID
}

func (c *chatContext) GetChatID() string {
	return c.chatID
}

func (c *chatContext) GetMetadata(key string) (value any, ok bool) {
	return c.metadata.Load(key)
}

func (c *chatContext) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// NewChatContext returns a ChatContext, empty IDs are generated.
func NewChatContext(sessionID, chatID string) ChatContext {
	return &chatContext{
		sessionID: values.StringsCoalesce(sessionID, NewChatID()),
		chatID:    values.StringsCoalesce(chatID, NewChatID()),
	}
}

type contextKey int

const (
	keyContext contextKey = iota
)

// WithChatContext returns a new context with ChatContext value
func WithChatContext(ctx context.Context, chatCtx ChatContext) context.Context {
	return context.WithValue(ctx, keyContext, chatCtx)
}

// GetChatContext retrieves the ChatContext from the context
func GetChatContext(ctx context.Context) ChatContext {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v
	}
	return nil
}

// GetChatID retrieves the chat ID from the provided context.
// If the context does not contain a ChatContext, it returns an empty string.
func GetChatID(ctx context.Context) string {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v.GetChatID()
	}
	return ""
}

// GetSessionAndChatID returns both IDs, or an error if the context has no ChatContext.
func GetSessionAndChatID(ctx context.Context) (sessionID string, chatID string, err error) {
	v := GetChatContext(ctx)
	if v == nil {
		return "", "", errors.New("chat context not found")
	}
	return v.GetSessionID(), v.GetChatID(), nil
}

// NewChatID generates a new random ID.
func NewChatID() string {
	return uuid.NewString()
}
