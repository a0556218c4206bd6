package external

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"passgate/internal/models"
)

// IssuanceClient calls the ticket issuance service for paid payment groups.
type IssuanceClient struct {
	baseURL    string
	httpClient *http.Client
}

type IssuanceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// External issuance service models
type IssueTicketsRequest struct {
	GroupID     string            `json:"group_id"`
	SessionID   string            `json:"session_id"`
	SuborderID  string            `json:"suborder_id"`
	OrderRef    string            `json:"order_ref"`
	OrganizerID int64             `json:"organizer_id"`
	Items       []models.LineItem `json:"items"`
}

type IssueTicketsResponse struct {
	Tickets []models.TicketRef `json:"tickets"`
}

func NewIssuanceClient(cfg IssuanceConfig) *IssuanceClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &IssuanceClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// IssueTicketsForGroup создает билеты для оплаченной группы.
// Повторный вызов с тем же group_id идемпотентен на стороне сервиса выпуска.
func (ic *IssuanceClient) IssueTicketsForGroup(ctx context.Context, group models.PaymentGroup) ([]models.TicketRef, error) {
	body := IssueTicketsRequest{
		GroupID:     group.ID,
		SessionID:   group.SessionID,
		SuborderID:  group.SuborderID,
		OrderRef:    group.OrderRef,
		OrganizerID: group.OrganizerID,
		Items:       group.Items,
	}

	var result IssueTicketsResponse
	if _, err := doJSON(ctx, ic.httpClient, http.MethodPost, ic.baseURL+"/api/v1/tickets/issue", body, &result); err != nil {
		return nil, fmt.Errorf("failed to issue tickets for group %s: %w", group.ID, err)
	}

	return result.Tickets, nil
}
