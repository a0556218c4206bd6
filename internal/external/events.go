package external

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "passgate/internal/errors"
	"passgate/internal/models"
)

// EventsClient reads pass stock from the event catalogue service.
type EventsClient struct {
	baseURL    string
	httpClient *http.Client
}

type EventsConfig struct {
	BaseURL string
	Timeout time.Duration
}

func NewEventsClient(cfg EventsConfig) *EventsClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &EventsClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// GetEventAvailability returns pass availability; an unknown event is ErrEventUnavailable.
func (ec *EventsClient) GetEventAvailability(ctx context.Context, eventID int64) (*models.Availability, error) {
	url := ec.baseURL + "/api/v1/events/" + strconv.FormatInt(eventID, 10) + "/availability"

	var result models.Availability
	status, err := doJSON(ctx, ec.httpClient, http.MethodGet, url, nil, &result)
	if status == http.StatusNotFound {
		return nil, apperrors.ErrEventUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get availability for event %d: %w", eventID, err)
	}

	if result.EventID == 0 {
		result.EventID = eventID
	}
	return &result, nil
}
