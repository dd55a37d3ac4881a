package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/backlog-triage/internal/domain"
)

// Stand-in usage figures. They are the same for every canned answer.
const (
	mockTokens     = 150
	mockConfidence = 0.7
)

var mockDocIDs = []string{"mock-1", "mock-2"}

type cannedAnswer struct {
	keywords []string
	summary  string
	category domain.Category
	severity domain.Severity
	priority int
	notes    string
}

// Checked in order; the first keyword hit wins.
var cannedAnswers = []cannedAnswer{
	{
		keywords: []string{"404", "не загружается"},
		summary:  "Пользователь сообщает о проблеме загрузки сайта с ошибкой 404",
		category: domain.CategoryBug,
		severity: domain.SeverityHigh,
		priority: 2,
		notes:    "Ошибка 404 обычно указывает на отсутствующий ресурс или неправильный URL",
	},
	{
		keywords: []string{"пароль", "сбросить"},
		summary:  "Запрос о сбросе или восстановлении пароля",
		category: domain.CategoryQuestion,
		severity: domain.SeverityMedium,
		priority: 3,
		notes:    "Пользователю нужна инструкция по восстановлению доступа",
	},
	{
		keywords: []string{"тормозит", "медленно"},
		summary:  "Проблема с производительностью при загрузке файлов",
		category: domain.CategoryBug,
		severity: domain.SeverityMedium,
		priority: 3,
		notes:    "Возможные причины: большие файлы, медленное соединение, оптимизация кода",
	},
	{
		keywords: []string{"темную тему", "тёмную тему", "улучшение"},
		summary:  "Предложение по добавлению темной темы в интерфейс",
		category: domain.CategoryImprovement,
		severity: domain.SeverityLow,
		priority: 4,
		notes:    "Функциональное улучшение для повышения удобства пользования",
	},
	{
		keywords: []string{"кнопка", "не работает"},
		summary:  "Проблема с неработающей кнопкой отправки формы",
		category: domain.CategoryBug,
		severity: domain.SeverityHigh,
		priority: 2,
		notes:    "Требуется проверка JavaScript кода и валидации формы",
	},
}

// MockInvoker is the stand-in agent used when no model is configured. It
// waits for delay and answers from a keyword table.
type MockInvoker struct {
	delay  time.Duration
	logger *slog.Logger
}

// NewMock creates the stand-in agent.
func NewMock(delay time.Duration, logger *slog.Logger) *MockInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockInvoker{delay: delay, logger: logger}
}

// Name implements Invoker.
func (m *MockInvoker) Name() string { return ProviderMock }

// Invoke implements Invoker.
func (m *MockInvoker) Invoke(ctx context.Context, _ string, payload ContextPayload) (*Reply, error) {
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("stand-in agent: %w", ctx.Err())
		}
	}

	answer := pickCanned(payload.UserMessage)
	result := domain.AnalysisResult{
		Type:           domain.AnalysisResultType,
		ProblemSummary: answer.summary,
		Category:       answer.category,
		Severity:       answer.severity,
		PriorityGuess:  answer.priority,
		AgentNotes:     answer.notes,
		Metrics: domain.Metrics{
			TokensUsed:    mockTokens,
			LatencyMs:     m.delay.Milliseconds(),
			API2DocsCount: len(mockDocIDs),
			API2DocsIDs:   mockDocIDs,
			Confidence:    mockConfidence,
		},
	}

	content, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode stand-in reply: %w", err)
	}

	m.logger.Debug("Stand-in agent answered", "category", answer.category, "severity", answer.severity)
	return &Reply{Content: string(content), TotalTokens: mockTokens}, nil
}

func pickCanned(message string) cannedAnswer {
	lower := strings.ToLower(message)
	for _, c := range cannedAnswers {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c
			}
		}
	}
	return cannedAnswer{
		summary:  "Анализ проблемы: " + message,
		category: domain.CategoryQuestion,
		severity: domain.SeverityMedium,
		priority: domain.PriorityDefault,
		notes:    "Требуется дополнительный анализ проблемы",
	}
}

var _ Invoker = (*MockInvoker)(nil)
