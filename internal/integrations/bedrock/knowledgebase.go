package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"codex-rag/internal/domain"
)

// agentRuntimeAPI is the minimal Bedrock Agent Runtime interface required by
// KnowledgeBase. *bedrockagentruntime.Client satisfies it.
type agentRuntimeAPI interface {
	Retrieve(ctx context.Context, in *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

// KnowledgeBase retrieves context from a Bedrock Knowledge Base.
type KnowledgeBase struct {
	api        agentRuntimeAPI
	kbID       string
	numResults int32
}

func NewKnowledgeBase(api agentRuntimeAPI, knowledgeBaseID string, numResults int) (*KnowledgeBase, error) {
	if api == nil {
		return nil, errors.New("bedrock: agent runtime api must not be nil")
	}
	knowledgeBaseID = strings.TrimSpace(knowledgeBaseID)
	if knowledgeBaseID == "" {
		return nil, errors.New("bedrock: knowledge base id must not be empty")
	}
	if numResults <= 0 {
		numResults = 3
	}
	return &KnowledgeBase{api: api, kbID: knowledgeBaseID, numResults: int32(numResults)}, nil
}

func (k *KnowledgeBase) Retrieve(ctx context.Context, query string) ([]domain.Snippet, error) {
	out, err := k.api.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(k.kbID),
		RetrievalQuery:  &agenttypes.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &agenttypes.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &agenttypes.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(k.numResults),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: retrieve: %w", err)
	}
	if out == nil {
		return nil, nil
	}

	snippets := make([]domain.Snippet, 0, len(out.RetrievalResults))
	for _, r := range out.RetrievalResults {
		if r.Content == nil || r.Content.Text == nil {
			continue
		}
		s := domain.Snippet{Text: *r.Content.Text}
		if r.Score != nil {
			s.Score = *r.Score
		}
		s.Source = locationURI(r.Location)
		snippets = append(snippets, s)
	}
	return snippets, nil
}

func locationURI(loc *agenttypes.RetrievalResultLocation) string {
	if loc == nil {
		return ""
	}
	switch {
	case loc.S3Location != nil && loc.S3Location.Uri != nil:
		return *loc.S3Location.Uri
	case loc.WebLocation != nil && loc.WebLocation.Url != nil:
		return *loc.WebLocation.Url
	}
	return string(loc.Type)
}
