package collector

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/replmon/internal/domain"
)

// MockSource — источник для разработки и демо-стендов.
// Включается ТОЛЬКО явно через source.kind=mock: молчаливой подмены пустых
// живых данных синтетикой в проде нет.
type MockSource struct {
	conn domain.Connection

	mu     sync.Mutex
	tokens []domain.TracerTokenResult
}

func NewMockSourceFactory() SourceFactory {
	return func(conn domain.Connection) (MetricsSource, error) {
		return &MockSource{conn: conn}, nil
	}
}

func (m *MockSource) FetchAgentStatuses(ctx context.Context) ([]domain.AgentStatus, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}

	start := time.Now().Add(-time.Hour)
	return []domain.AgentStatus{
		{
			Name:        m.conn.Name + "-logreader",
			Kind:        domain.AgentLogReader,
			RunState:    domain.RunStateRunning,
			LastStart:   &start,
			LastOutcome: domain.OutcomeSucceeded,
			Performance: domain.AgentPerformance{
				CommandsPerSecond: 40 + rand.Float64()*20,
				CPUPercent:        10 + rand.Float64()*30,
				MemoryMB:          120,
			},
		},
		{
			Name:        m.conn.Name + "-distribution",
			Kind:        domain.AgentDistribution,
			RunState:    domain.RunStateRunning,
			LastStart:   &start,
			LastOutcome: domain.OutcomeSucceeded,
			Performance: domain.AgentPerformance{
				CommandsPerSecond: 35 + rand.Float64()*20,
				CPUPercent:        15 + rand.Float64()*40,
				MemoryMB:          200,
			},
		},
	}, nil
}

func (m *MockSource) FetchLatencyMetrics(ctx context.Context) ([]domain.LatencyMetric, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}

	return []domain.LatencyMetric{
		{
			Publication:     "orders_pub",
			Subscriber:      m.conn.Name + "-sub",
			SubscriberDB:    "orders_replica",
			LatencySeconds:  rand.Float64() * 60,
			PendingCommands: rand.Int64N(2_000),
			DeliveryRate:    30 + rand.Float64()*30,
			CollectedAt:     time.Now().UTC(),
		},
	}, nil
}

func (m *MockSource) FetchTracerTokens(ctx context.Context) ([]domain.TracerTokenResult, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Ранее посаженные токены "долетают" со случайной задержкой
	out := make([]domain.TracerTokenResult, len(m.tokens))
	for i, tok := range m.tokens {
		if tok.SubscriberInsertTime == nil {
			arrived := tok.PublisherInsertTime.Add(time.Duration(1+rand.IntN(30)) * time.Second)
			tok.DistributorInsertTime = &arrived
			tok.SubscriberInsertTime = &arrived
			m.tokens[i] = tok
		}
		out[i] = tok
	}
	return out, nil
}

func (m *MockSource) FetchPublicationStats(ctx context.Context) ([]domain.PublicationStats, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}

	return []domain.PublicationStats{
		{
			Name:                   "orders_pub",
			SubscriptionCount:      1,
			ArticleCount:           12,
			TotalCommandsDelivered: rand.Int64N(1_000_000),
			AverageCommandSize:     256,
			RetentionHours:         72,
			TransactionsPerSecond:  5 + rand.Float64()*10,
		},
	}, nil
}

func (m *MockSource) InsertTracerToken(ctx context.Context, publication string) error {
	if err := m.simulateLatency(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens = append(m.tokens, domain.TracerTokenResult{
		ID:                  uuid.New().String(),
		Publication:         publication,
		PublisherInsertTime: time.Now().UTC(),
	})
	if len(m.tokens) > 20 {
		m.tokens = m.tokens[len(m.tokens)-20:]
	}
	return nil
}

// simulateLatency имитирует сетевую задержку 20-120мс.
func (m *MockSource) simulateLatency(ctx context.Context) error {
	latency := time.Duration(20+rand.IntN(100)) * time.Millisecond
	select {
	case <-time.After(latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
