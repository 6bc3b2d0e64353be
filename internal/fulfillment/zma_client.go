package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"reconciliation-service/internal/models"
	"reconciliation-service/internal/service"

	"go.uber.org/zap"
)

// ZMAClient — адаптер диспетчера фулфилмента поверх JSON API ZMA.
// Все вызовы ограничены таймаутом клиента; зависший запрос не должен
// блокировать развёртку дольше него.
type ZMAClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func NewZMAClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *ZMAClient {
	return &ZMAClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type submitRequest struct {
	OrderID     string       `json:"order_id"`
	OrderNumber string       `json:"order_number"`
	Method      string       `json:"method"`
	Items       []submitItem `json:"items"`
}

type submitItem struct {
	ProductID string `json:"product_id"`
	Quantity  uint32 `json:"quantity"`
}

type submitResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

func (c *ZMAClient) Submit(ctx context.Context, o *models.Order) (service.DispatchResult, error) {
	req := submitRequest{
		OrderID:     o.ID.String(),
		OrderNumber: o.OrderNumber,
		Method:      o.FulfillmentMethod,
	}
	for _, it := range o.Items {
		req.Items = append(req.Items, submitItem{ProductID: it.ProductID.String(), Quantity: it.Quantity})
	}

	var resp submitResponse
	if err := c.post(ctx, "/orders", req, &resp); err != nil {
		return service.DispatchResult{}, err
	}
	if !resp.Success {
		// Отказ уровня API, не транспорта: заказ уйдёт в retry-расписание.
		c.log.Warn("zma rejected order",
			zap.String("order_number", o.OrderNumber),
			zap.String("reason", resp.Error))
	}
	return service.DispatchResult{
		Success:     resp.Success,
		ExternalRef: resp.RequestID,
		Error:       resp.Error,
	}, nil
}

func (c *ZMAClient) Cancel(ctx context.Context, externalRef string) error {
	var resp submitResponse
	if err := c.post(ctx, "/orders/"+externalRef+"/cancel", struct{}{}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("zma cancel %s rejected: %s", externalRef, resp.Error)
	}
	return nil
}

func (c *ZMAClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("zma request %s: %w", path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 500 {
		return fmt.Errorf("zma %s: status %d", path, res.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("zma %s: malformed response: %w", path, err)
	}
	return nil
}
