package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sjsunlp/leetcode-assistant/internal/apierr"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
)

type PineconeConfig struct {
	APIKey    string
	BaseURL   string
	IndexName string
	// IndexHost skips the describe_index lookup when set.
	IndexHost string
	Namespace string
	Cloud     string
	Region    string
	Timeout   time.Duration
}

// PineconeIndex resolves (and if needed creates) its index on first use, so
// the dimension can be taken from the first vector the service produces.
type PineconeIndex struct {
	log       *logger.Logger
	pc        PineconeClient
	cfg       PineconeConfig
	readyPoll time.Duration
	readyWait time.Duration

	mu   sync.Mutex
	host string
}

// NewPineconeIndex never fails for a missing API key; calls then report a
// configuration error so ingestion can carry on without vectors.
func NewPineconeIndex(log *logger.Logger, cfg PineconeConfig) (*PineconeIndex, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.IndexName) == "" && strings.TrimSpace(cfg.IndexHost) == "" {
		return nil, fmt.Errorf("pinecone index name or host required")
	}
	if cfg.Cloud == "" {
		cfg.Cloud = "aws"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	idx := &PineconeIndex{
		log:       log.With("service", "PineconeIndex", "index_name", cfg.IndexName),
		cfg:       cfg,
		readyPoll: 2 * time.Second,
		readyWait: 2 * time.Minute,
		host:      strings.TrimSpace(cfg.IndexHost),
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return idx, nil
	}

	pc, err := NewPineconeClient(log, PineconeClientConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	idx.pc = pc
	return idx, nil
}

func (p *PineconeIndex) Upsert(ctx context.Context, id string, values []float32, metadata map[string]any) error {
	host, err := p.resolveHost(ctx, len(values))
	if err != nil {
		return err
	}
	_, err = p.pc.UpsertVectors(ctx, host, UpsertRequest{
		Namespace: p.cfg.Namespace,
		Vectors:   []Vector{{ID: id, Values: values, Metadata: metadata}},
	})
	if err != nil {
		return apierr.Provider("pinecone upsert failed", err)
	}
	return nil
}

func (p *PineconeIndex) Query(ctx context.Context, values []float32, topK int, filter map[string]any, includeMetadata bool) ([]Match, error) {
	host, err := p.resolveHost(ctx, len(values))
	if err != nil {
		return nil, err
	}
	resp, err := p.pc.Query(ctx, host, QueryRequest{
		Namespace:       p.cfg.Namespace,
		Vector:          values,
		TopK:            topK,
		Filter:          eqFilter(filter),
		IncludeMetadata: includeMetadata,
	})
	if err != nil {
		return nil, apierr.Provider("pinecone query failed", err)
	}

	out := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		out = append(out, Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return out, nil
}

// resolveHost returns the data-plane host, creating a cosine index with the
// given dimension when it does not exist yet.
func (p *PineconeIndex) resolveHost(ctx context.Context, dimension int) (string, error) {
	if p.pc == nil {
		return "", apierr.Configuration("PINECONE_API_KEY not configured")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.host != "" {
		return p.host, nil
	}

	desc, err := p.pc.DescribeIndex(ctx, p.cfg.IndexName)
	if errors.Is(err, errPineconeIndexNotFound) {
		if dimension <= 0 {
			return "", apierr.Provider("cannot create pinecone index without a vector dimension", nil)
		}
		p.log.Info("Pinecone index missing; creating", "dimension", dimension, "metric", "cosine")
		desc, err = p.pc.CreateIndex(ctx, CreateIndexRequest{
			Name:      p.cfg.IndexName,
			Dimension: dimension,
			Metric:    "cosine",
			Spec:      IndexSpec{Serverless: ServerlessSpec{Cloud: p.cfg.Cloud, Region: p.cfg.Region}},
		})
		if err != nil {
			return "", apierr.Provider("pinecone create_index failed", err)
		}
		desc, err = p.waitReady(ctx, desc)
	}
	if err != nil {
		return "", apierr.Provider("pinecone describe_index failed", err)
	}

	host := strings.TrimSpace(desc.Host)
	if host == "" {
		return "", apierr.Provider("pinecone describe_index returned empty host", nil)
	}
	p.host = host
	return host, nil
}

func (p *PineconeIndex) waitReady(ctx context.Context, desc *IndexDescription) (*IndexDescription, error) {
	deadline := time.Now().Add(p.readyWait)
	for desc == nil || !desc.Status.Ready || desc.Host == "" {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("index %s not ready after %s", p.cfg.IndexName, p.readyWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.readyPoll):
		}
		next, err := p.pc.DescribeIndex(ctx, p.cfg.IndexName)
		if err != nil && !errors.Is(err, errPineconeIndexNotFound) {
			return nil, err
		}
		desc = next
	}
	return desc, nil
}

// eqFilter rewrites plain values into Pinecone's explicit {"$eq": v} form.
func eqFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		if _, isOp := v.(map[string]any); isOp {
			out[k] = v
			continue
		}
		out[k] = map[string]any{"$eq": v}
	}
	return out
}
