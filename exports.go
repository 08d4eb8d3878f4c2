package appsync

import (
	"github.com/rickgao/appsync-client/internal/api"
	"github.com/rickgao/appsync-client/internal/auth"
	"github.com/rickgao/appsync-client/internal/connection"
	"github.com/rickgao/appsync-client/internal/gql"
	"github.com/rickgao/appsync-client/internal/retry"
	"github.com/rickgao/appsync-client/internal/subscription"
)

// Types
type (
	Stream      = subscription.Stream
	PostOptions = api.Options
	RetryConfig = retry.Config
	Attempt     = retry.Attempt
	RandSource  = retry.Source
	Signer      = auth.Signer
	SignerFunc  = auth.SignerFunc
	SignRequest = auth.Request
)

// Errors
type (
	NonRetryableFetchError  = api.NonRetryableFetchError
	RateLimitedError        = api.RateLimitedError
	ResponseTimeoutError    = api.ResponseTimeoutError
	TransportError          = api.TransportError
	GraphQLError            = gql.Error
	GraphQLErrorEntry       = gql.ErrorEntry
	ConnectionError         = connection.ConnectionError
	SubscriptionError       = subscription.ServerError
	MissingCredentialsError = auth.MissingCredentialsError
)

var (
	ErrHandshakeTimeout     = connection.ErrHandshakeTimeout
	ErrKeepAliveLapsed      = connection.ErrKeepAliveLapsed
	ErrClientClosing        = connection.ErrClientClosing
	ErrSocketClosed         = connection.ErrSocketClosed
	ErrEstablishmentTimeout = subscription.ErrEstablishmentTimeout
	ErrStreamClosed         = subscription.ErrStreamClosed
)

// NoRetries as RetryConfig.Retries disables retrying.
const NoRetries = retry.NoRetries

// IsRetryable reports whether Post would retry err.
func IsRetryable(err error) bool {
	return api.IsRetryable(err)
}
