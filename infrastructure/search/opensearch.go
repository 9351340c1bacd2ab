// Package search keeps the user search index (an OpenSearch domain) in step
// with user profiles.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	"github.com/opensearch-project/opensearch-go/v4/signer/awsv2"
	"go.uber.org/zap"

	"real-backend/domain/stream"
	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/resilience"
)

const signingService = "es"

// projectedAttributes are the profile attributes the index stores.
var projectedAttributes = []string{
	"userId",
	"username",
	"fullName",
	"photoPostId",
	"userStatus",
	"lastManuallyReindexedAt",
}

// Project returns the indexed document for a profile.
func Project(item stream.Item) map[string]any {
	doc := make(map[string]any, len(projectedAttributes))
	for _, attr := range projectedAttributes {
		if v, ok := item[attr]; ok {
			doc[attr] = stream.Transportable(v)
		}
	}
	return doc
}

// Config configures the search adapter
type Config struct {
	Endpoint string
	Index    string
}

// OpenSearch implements ports.SearchIndex with SigV4-signed document calls.
type OpenSearch struct {
	config  Config
	client  *opensearchapi.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// NewOpenSearch creates a search adapter that signs with the credentials and
// region of awsCfg. A nil transport uses the default one. Retries are left to
// the stream batch.
func NewOpenSearch(config Config, awsCfg aws.Config, transport http.RoundTripper, breaker *resilience.Breaker, logger *zap.Logger) (*OpenSearch, error) {
	signer, err := awsv2.NewSignerWithService(awsCfg, signingService)
	if err != nil {
		return nil, fmt.Errorf("create search signer: %w", err)
	}
	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses:    []string{strings.TrimRight(config.Endpoint, "/")},
			Signer:       signer,
			Transport:    transport,
			DisableRetry: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}
	return &OpenSearch{
		config:  config,
		client:  client,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// AddUser writes the full profile document
func (s *OpenSearch) AddUser(ctx context.Context, userID string, item stream.Item) error {
	return s.put(ctx, "addUser", userID, Project(item))
}

// UpdateUser rewrites the document when its projection changed
func (s *OpenSearch) UpdateUser(ctx context.Context, userID string, oldItem, newItem stream.Item) error {
	doc := Project(newItem)
	if stream.Equal(Project(oldItem), doc) {
		s.logger.Debug("Search projection unchanged", zap.String("userID", userID))
		return nil
	}
	return s.put(ctx, "updateUser", userID, doc)
}

// DeleteUser removes the document. A missing document is not an error.
func (s *OpenSearch) DeleteUser(ctx context.Context, userID string) error {
	return s.breaker.Execute(ctx, "deleteUser", func(ctx context.Context) error {
		resp, err := s.client.Document.Delete(ctx, opensearchapi.DocumentDeleteReq{
			Index:      s.config.Index,
			DocumentID: userID,
		})
		var status int
		if resp != nil {
			status = statusOf(resp.Inspect())
		}
		if status == http.StatusNotFound {
			s.logger.Debug("Search document already gone", zap.String("userID", userID))
			return nil
		}
		return classify("deleteUser", status, err)
	})
}

func (s *OpenSearch) put(ctx context.Context, operation, userID string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return apperrors.NewDataIntegrityError("failed to encode search document", err)
	}
	return s.breaker.Execute(ctx, operation, func(ctx context.Context) error {
		resp, err := s.client.Index(ctx, opensearchapi.IndexReq{
			Index:      s.config.Index,
			DocumentID: userID,
			Body:       bytes.NewReader(body),
		})
		var status int
		if resp != nil {
			status = statusOf(resp.Inspect())
		}
		return classify(operation, status, err)
	})
}

func statusOf(inspect opensearchapi.Inspect) int {
	if inspect.Response == nil {
		return 0
	}
	return inspect.Response.StatusCode
}

// classify maps a document call outcome to an error kind. No status means the
// request never got a response.
func classify(operation string, status int, err error) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if err == nil {
		err = errors.New("no response")
	}
	switch {
	case status == 0:
		return apperrors.NewTransientError("search."+operation, err)
	case status == http.StatusTooManyRequests || status >= 500:
		return apperrors.NewTransientError("search."+operation, fmt.Errorf("status %d: %w", status, err))
	}
	return apperrors.NewDataIntegrityError(fmt.Sprintf("search %s rejected with status %d", operation, status), err)
}
